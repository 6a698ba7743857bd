package offeracq

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/supplychainopt/decision-pipeline/internal/adapter/observability"
	"github.com/supplychainopt/decision-pipeline/internal/domain"
	"github.com/supplychainopt/decision-pipeline/pkg/textx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const stageName = "offeracq"

// Service drives one scraper run: for every product and registered source it
// fetches candidate offers, drops ones that duplicate a still-fresh offer,
// resolves the supplier row, and persists the rest.
type Service struct {
	Products  domain.ProductRepository
	Suppliers domain.SupplierRepository
	Offers    domain.OfferRepository
	Runs      domain.RunRepository
	Registry  *Registry
	TTL       time.Duration
}

// NewService builds a Service. ttl is the freshness window used to
// deduplicate offers against ones already captured for the same
// supplier/product pair.
func NewService(products domain.ProductRepository, suppliers domain.SupplierRepository, offers domain.OfferRepository, runs domain.RunRepository, registry *Registry, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{Products: products, Suppliers: suppliers, Offers: offers, Runs: runs, Registry: registry, TTL: ttl}
}

// Run executes a scraper job against the given products across every
// registered source, persisting the job's terminal state and returning it.
func (s *Service) Run(ctx domain.Context, products []domain.Product) (domain.ScraperJob, error) {
	tracer := otel.Tracer("offeracq.service")
	ctx, span := tracer.Start(ctx, "offeracq.Service.Run")
	defer span.End()

	sources := s.Registry.Names()
	span.SetAttributes(
		attribute.Int("offeracq.products", len(products)),
		attribute.StringSlice("offeracq.sources", sources),
	)

	job := domain.ScraperJob{
		Status:    domain.RunQueued,
		Sources:   sources,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	id, err := s.Runs.CreateScraperJob(ctx, job)
	if err != nil {
		span.RecordError(err)
		return domain.ScraperJob{}, fmt.Errorf("op=offeracq.Service.Run: create scraper job: %w", err)
	}
	job.ID = id

	observability.EnqueueRun(stageName)
	observability.StartRun(stageName)

	if err := s.transition(ctx, &job, domain.RunRunning); err != nil {
		observability.FailRun(stageName)
		return job, err
	}

	collected, runErr := s.collect(ctx, products)
	job.OffersCollected = collected

	if runErr != nil {
		job.Error = runErr.Error()
		if tErr := s.transition(ctx, &job, domain.RunFailed); tErr != nil {
			slog.Error("offeracq: failed to record failed transition", slog.Any("error", tErr))
		}
		observability.FailRun(stageName)
		span.RecordError(runErr)
		return job, fmt.Errorf("op=offeracq.Service.Run: %w", runErr)
	}

	if err := s.transition(ctx, &job, domain.RunSucceeded); err != nil {
		observability.FailRun(stageName)
		return job, err
	}
	observability.CompleteRun(stageName, string(domain.RunSucceeded))

	slog.Info("offeracq run completed",
		slog.String("scraper_job_id", job.ID),
		slog.Int("offers_collected", job.OffersCollected),
		slog.Int("products", len(products)))

	return job, nil
}

func (s *Service) transition(ctx domain.Context, job *domain.ScraperJob, next domain.RunStatus) error {
	if err := domain.Transition(job.Status, next); err != nil {
		return fmt.Errorf("op=offeracq.Service.transition: %w", err)
	}
	job.Status = next
	job.UpdatedAt = time.Now().UTC()
	if err := s.Runs.UpdateScraperJob(ctx, *job); err != nil {
		return fmt.Errorf("op=offeracq.Service.transition: update scraper job: %w", err)
	}
	return nil
}

// collect iterates products x sources, persisting newly-seen offers and
// returning the total number of offers persisted.
func (s *Service) collect(ctx domain.Context, products []domain.Product) (int, error) {
	cutoff := time.Now().Add(-s.TTL)
	collected := 0

	for _, product := range products {
		for _, source := range s.Registry.All() {
			raw, err := source.FetchOffers(ctx, product)
			if err != nil {
				// A source failure is logged and skipped; it does not fail the job.
				slog.Warn("offeracq: source fetch failed, skipping",
					slog.String("source", source.Name()),
					slog.String("sku", product.SKU),
					slog.Any("error", err))
				continue
			}

			for _, offer := range raw {
				offer.SupplierID = textx.SanitizeText(offer.SupplierID)
				offer.RawPayload = textx.SanitizeText(offer.RawPayload)
				supplier, err := s.Suppliers.GetOrCreateByName(ctx, offer.SupplierID, domain.Supplier{
					Name:               offer.SupplierID,
					Rating:             3.5,
					Region:             "Asia",
					Country:            "CN",
					IncotermsSupported: []string{"FOB", "CIF"},
					IsActive:           true,
				})
				if err != nil {
					return collected, fmt.Errorf("op=offeracq.Service.collect: resolve supplier %q: %w", offer.SupplierID, err)
				}
				offer.SupplierID = supplier.ID

				fresh, err := s.Offers.FindFresh(ctx, supplier.ID, product.ID, cutoff)
				if err != nil {
					return collected, fmt.Errorf("op=offeracq.Service.collect: find fresh offers: %w", err)
				}
				if len(fresh) > 0 {
					observability.RecordOfferDedup(source.Name())
					continue
				}

				if _, err := s.Offers.Create(ctx, offer); err != nil {
					return collected, fmt.Errorf("op=offeracq.Service.collect: persist offer: %w", err)
				}
				observability.RecordOfferCollected(source.Name())
				collected++
			}
		}
	}

	return collected, nil
}
