package eastmoney

// HolderReportType selects which disclosure table the datacenter API serves.
type HolderReportType string

const (
	// ReportTopHolders - top-ten shareholders, includes locked-up positions
	ReportTopHolders HolderReportType = "RPT_F10_EH_HOLDERS"
	// ReportFreeHolders - top-ten free-float shareholders
	ReportFreeHolders HolderReportType = "RPT_F10_EH_FREEHOLDERS"
)

// HolderRow is one disclosed holder line as returned by the datacenter API.
// Dates stay strings here; parsing happens at the ingest boundary.
type HolderRow struct {
	EndDate    string  `json:"END_DATE"`
	NoticeDate string  `json:"NOTICE_DATE"`
	HolderName string  `json:"HOLDER_NAME"`
	HoldNum    float64 `json:"HOLD_NUM"`
	HoldRatio  float64 `json:"HOLD_RATIO"`
}

// holderResponse wraps the datacenter API envelope.
type holderResponse struct {
	Result *struct {
		Data []HolderRow `json:"data"`
	} `json:"result"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// KlineBar is one daily bar decoded from the push2his kline payload.
// Volume is in exchange lots, Turnover in currency units.
type KlineBar struct {
	Date     string
	Open     float64
	Close    float64
	High     float64
	Low      float64
	Volume   float64
	Turnover float64
}

// klineResponse wraps the push2his kline envelope. Each kline entry is a
// comma-joined string of date,open,close,high,low,volume,turnover.
type klineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}
