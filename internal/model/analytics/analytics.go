package analytics

// KPIBlock is the headline metric set.
type KPIBlock struct {
	TotalSales          float64 `json:"total_sales"`
	TotalUnits          float64 `json:"total_units"`
	AvgDiscount         float64 `json:"avg_discount"`
	MarketingEfficiency float64 `json:"marketing_efficiency"`
	GrowthVsPrevPeriod  float64 `json:"growth_vs_prev_period"`
}

// SeriesPoint is one period of the trend series.
type SeriesPoint struct {
	Period string  `json:"period"`
	Value  float64 `json:"value"`
}

// BreakdownRow is one group of a breakdown, e.g. a region or a category.
type BreakdownRow struct {
	Group string  `json:"group"`
	Value float64 `json:"value"`
}

// Anomaly is a flagged outlier in a metric.
type Anomaly struct {
	Date   string  `json:"date"`
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	ZScore float64 `json:"z_score"`
}

// Dataset names one of the six slices fetched during hydration.
type Dataset string

const (
	DatasetKPIs            Dataset = "kpis"
	DatasetSeries          Dataset = "series"
	DatasetRegionSplit     Dataset = "region_split"
	DatasetCategorySplit   Dataset = "category_split"
	DatasetRecommendations Dataset = "recommendations"
	DatasetAnomalies       Dataset = "anomalies"
)

// Datasets lists all hydration slices in a stable order.
var Datasets = []Dataset{
	DatasetKPIs,
	DatasetSeries,
	DatasetRegionSplit,
	DatasetCategorySplit,
	DatasetRecommendations,
	DatasetAnomalies,
}

// Result bundles the six datasets rendered together.
type Result struct {
	KPIs            *KPIBlock      `json:"kpis,omitempty"`
	Series          []SeriesPoint  `json:"series"`
	RegionSplit     []BreakdownRow `json:"regionSplit"`
	CategorySplit   []BreakdownRow `json:"categorySplit"`
	Recommendations []string       `json:"recommendations"`
	Anomalies       []Anomaly      `json:"anomalies"`
}
