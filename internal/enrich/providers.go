package enrich

import (
	"context"

	"squeeze-discovery/internal/domain"
)

// QuoteProvider returns the authoritative price. It is mandatory.
type QuoteProvider interface {
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
}

// RelVolumeProvider returns relative volume and momentum readings.
type RelVolumeProvider interface {
	Momentum(ctx context.Context, symbol string) (*domain.MomentumData, error)
}

// ShortInterestProvider returns short interest and borrow readings.
type ShortInterestProvider interface {
	ShortInterest(ctx context.Context, symbol string) (*domain.SqueezeData, error)
}

// OptionsProvider returns options-flow readings.
type OptionsProvider interface {
	Options(ctx context.Context, symbol string) (*domain.OptionsData, error)
}

// SentimentProvider returns social sentiment readings.
type SentimentProvider interface {
	Sentiment(ctx context.Context, symbol string) (*domain.SocialData, error)
}

// CatalystProvider returns the most recent catalyst.
type CatalystProvider interface {
	Catalyst(ctx context.Context, symbol string) (*domain.CatalystData, error)
}

// TechnicalProvider returns moving-average readings.
type TechnicalProvider interface {
	Technical(ctx context.Context, symbol string) (*domain.TechnicalData, error)
}

// Providers is the set of enrichment sources. Nil members are skipped.
type Providers struct {
	Quote         QuoteProvider
	RelVolume     RelVolumeProvider
	ShortInterest ShortInterestProvider
	Options       OptionsProvider
	Sentiment     SentimentProvider
	Catalyst      CatalystProvider
	Technical     TechnicalProvider
}

// Provider names used as EnrichErrors keys and metric labels.
const (
	ProviderQuote         = "quote"
	ProviderRelVolume     = "rel_volume"
	ProviderShortInterest = "short_interest"
	ProviderOptions       = "options"
	ProviderSentiment     = "sentiment"
	ProviderCatalyst      = "catalyst"
	ProviderTechnical     = "technical"
)
