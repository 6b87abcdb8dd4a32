// Package domain models the NASA gridded products, the watershed study area,
// and the per-location daily series extracted from them.
//
// # Data Sources
//
// All products are served by NASA GES DISC behind Earthdata Login:
//
//	TRMM 3B42RT daily  (0.25°)  https://disc2.gesdisc.eosdis.nasa.gov/data/TRMM_RT/TRMM_3B42RT_Daily.7/<YYYY>/<MM>/
//	IMERG final daily  (0.1°)   https://gpm1.gesdisc.eosdis.nasa.gov/data/GPM_L3/GPM_3IMERGDF.05/<YYYY>/<MM>/
//	GLDAS Noah 3-hourly (0.25°) https://hydro1.gesdisc.eosdis.nasa.gov/data/GLDAS/GLDAS_NOAH025_3H.2.1/<YYYY>/<DDD>/
//
// File names embed the date as the first 8-digit run, e.g.
// "3B-DAY.MS.MRG.3IMERG.20150601-S000000-E235959.V05.nc4" or
// "GLDAS_NOAH025_3H.A20150601.0300.021.nc4" (eight files per GLDAS day).
//
// # Product Selection
//
// Precipitation switches product on a fixed calendar cutover: days before
// 2014-03-12 read TRMM, later days read IMERG. The two grids differ, so grid
// linkage is computed per product. Temperature always reads GLDAS.
//
// Supported epochs: precipitation from 2000-03-01, GLDAS from 2000-01-01. A
// start date before the epoch is a [DateRangeError] for that function only.
//
// # Grid Orientation
//
// IMERG and TRMM store the variable as [lon][lat] with latitude ascending;
// GLDAS stores [time][lat][lon], also ascending. Every grid is reconciled to
// row 0 = north before sampling. See [Product.Axes] and [Product.SouthUp].
//
// # Units and Missing Data
//
// Precipitation is mm/day and written unchanged. Temperature is Kelvin; daily
// max and min are taken across the sub-daily grids and converted with
// T(°C) = T(K) − 273.16. Missing data is written as the sentinel -99, never as
// a blank line.
//
// # Output Naming
//
//	GPMswat            precipitation<ID>.txt  + precipitationMaster.txt (with TRMM link columns)
//	GPMpolyCentroid    precip<ID>.txt         + precipitationMaster.txt
//	GLDASwat           temp<ID>.txt           + temp_Master.txt
//	GLDASpolyCentroid  temp<ID>.txt           + temp_Master.txt
package domain
