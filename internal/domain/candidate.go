package domain

// CandidateSnapshot is a raw per-symbol market bar taken from a scan tick.
// Squeeze inputs are optional and expressed as fractions (0.25 = 25%).
type CandidateSnapshot struct {
	Symbol     string
	Price      float64
	Volume     float64
	PrevVolume float64
	PrevClose  float64

	ShortInterest *float64 // fraction of float sold short
	Utilization   *float64 // borrow utilization fraction
	BorrowFee     *float64 // annualized borrow fee fraction
	FloatShares   *float64 // shares in float
}

// PrefilteredCandidate is a symbol that passed the cheap prefilter gates.
type PrefilteredCandidate struct {
	Symbol         string
	Price          float64
	Volume         float64
	RelativeVolume float64
	ChangePercent  float64 // absolute change vs previous close, as a fraction
	ShortInterest  float64
	RankScore      float64
}

// MomentumData holds volume and momentum readings.
type MomentumData struct {
	RelVol      float64 `json:"relVol"`
	ATRPct      float64 `json:"atrPct"` // average true range as % of price
	RSI         float64 `json:"rsi"`
	VWAPDistPct float64 `json:"vwapDistPct"`
}

// SqueezeData holds short-squeeze readings, all percentages except DTC and FloatM.
type SqueezeData struct {
	ShortPct float64 `json:"shortPct"`
	UtilPct  float64 `json:"utilPct"`
	FeePct   float64 `json:"feePct"`
	DTC      float64 `json:"dtc"`    // days to cover
	FloatM   float64 `json:"floatM"` // float in millions of shares
}

// OptionsData holds options-flow readings.
type OptionsData struct {
	CallPutRatio float64 `json:"callPutRatio"`
	IVPercentile float64 `json:"ivPercentile"`
	OI           float64 `json:"oi"`
}

// SocialData holds social readings. Sentiment is in [-1, 1].
type SocialData struct {
	Buzz      float64 `json:"buzz"`
	Sentiment float64 `json:"sentiment"`
	Mentions  int     `json:"mentions"`
}

// CatalystData describes the most recent catalyst.
type CatalystData struct {
	Type     string  `json:"type"`
	AgeHours float64 `json:"ageHours"`
	Headline string  `json:"headline"`
}

// TechnicalData holds moving-average readings.
type TechnicalData struct {
	EMA9      float64 `json:"ema9"`
	EMA20     float64 `json:"ema20"`
	AboveVWAP bool    `json:"aboveVwap"`
}

// Quote is the authoritative price reading for a symbol.
type Quote struct {
	Symbol    string
	Price     float64
	Volume    float64
	PrevClose float64
}

// EnrichedCandidate is a candidate with provider data attached.
// Sections are nil when the provider was unavailable or failed.
type EnrichedCandidate struct {
	Symbol    string
	Price     float64
	BaseScore float64 // score carried from the external scan (0-100)

	Momentum  *MomentumData
	Squeeze   *SqueezeData
	Options   *OptionsData
	Social    *SocialData
	Catalyst  *CatalystData
	Technical *TechnicalData

	// EnrichErrors maps provider name to failure code for partial failures.
	EnrichErrors map[string]string
	FromCache    bool
	Thesis       string
}

// SectionCount returns how many enrichment sections are present.
func (c *EnrichedCandidate) SectionCount() int {
	n := 0
	if c.Momentum != nil {
		n++
	}
	if c.Squeeze != nil {
		n++
	}
	if c.Options != nil {
		n++
	}
	if c.Social != nil {
		n++
	}
	if c.Catalyst != nil {
		n++
	}
	if c.Technical != nil {
		n++
	}
	return n
}

// HasCatalyst reports whether a catalyst type is known.
func (c *EnrichedCandidate) HasCatalyst() bool {
	return c.Catalyst != nil && c.Catalyst.Type != ""
}

// RelVol returns the relative volume reading or 0 when momentum is missing.
func (c *EnrichedCandidate) RelVol() float64 {
	if c.Momentum == nil {
		return 0
	}
	return c.Momentum.RelVol
}
