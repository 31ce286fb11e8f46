package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/markusylisiurunen/ticketdesk/internal/logger"
)

const (
	MinGeneratedPrice = 299.0
	MaxGeneratedPrice = 2999.0
)

type Origin string

const (
	OriginExisting  Origin = "existing"
	OriginGenerated Origin = "generated"
)

type Resolution struct {
	City   string
	Price  float64
	Origin Origin
}

type ResolverOption func(*Resolver)

// WithRand replaces the random source used for auto-pricing.
func WithRand(r *rand.Rand) ResolverOption {
	return func(res *Resolver) { res.draw = r.Float64 }
}

type Resolver struct {
	mux    sync.Mutex
	store  *Store
	logger logger.Logger
	draw   func() float64
}

func NewResolver(store *Store, logger logger.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, logger: logger, draw: rand.Float64}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, city string) (Resolution, error) {
	key := NormalizeCity(city)
	if key == "" {
		return Resolution{}, ErrInvalidCity
	}
	price, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return Resolution{}, err
	}
	if ok {
		return Resolution{City: key, Price: price, Origin: OriginExisting}, nil
	}
	// misses are serialized so each unknown city is drawn for at most once
	r.mux.Lock()
	defer r.mux.Unlock()
	price, ok, err = r.store.Get(ctx, key)
	if err != nil {
		return Resolution{}, err
	}
	if ok {
		return Resolution{City: key, Price: price, Origin: OriginExisting}, nil
	}
	generated := r.generate()
	stored, inserted, err := r.store.Add(ctx, key, generated)
	if errors.Is(err, ErrInvalidPrice) {
		panic(fmt.Sprintf("generated an invalid price for %s: %v", key, err))
	}
	if err != nil {
		return Resolution{}, err
	}
	if !inserted {
		return Resolution{City: key, Price: stored, Origin: OriginExisting}, nil
	}
	r.logger.Info("auto-generated price for %s: %.2f", key, stored)
	return Resolution{City: key, Price: stored, Origin: OriginGenerated}, nil
}

func (r *Resolver) generate() float64 {
	p := MinGeneratedPrice + r.draw()*(MaxGeneratedPrice-MinGeneratedPrice)
	return math.Round(p*100) / 100
}
