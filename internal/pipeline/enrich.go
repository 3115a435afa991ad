package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ptrun/internal/builder"
	appLog "ptrun/internal/log"
	"ptrun/internal/model"
	"ptrun/internal/source"
	"ptrun/internal/taxonomy"
)

// EnrichOne runs every enrichment step for one listing and builds the
// event. Each step catches its own errors so later steps run on what the
// builder already holds. A non-nil error means the listing failed: the
// detail fetch, the calendar export, a generation call or the geocoder
// returned an error. The event is still returned for inspection.
func (p *Pipeline) EnrichOne(ctx context.Context, id int) (model.Event, error) {
	b := builder.New(id)
	var failures []error

	listing, err := p.source.FetchListing(ctx, id)
	if err != nil {
		appLog.Error("listing details fetch failed", err, "id", id)
		failures = append(failures, err)
	} else {
		p.fromListing(ctx, b, listing)
	}

	if err := p.fromCalendar(ctx, b); err != nil {
		failures = append(failures, err)
	}

	if !p.opts.SkipDescriptions {
		if err := p.fromGeneration(ctx, b); err != nil {
			failures = append(failures, err)
		}
	}

	if !p.opts.SkipGeocoding {
		if err := p.fromGeocoder(ctx, b); err != nil {
			failures = append(failures, err)
		}
	}

	backfillDistances(b)

	return b.Build(), errors.Join(failures...)
}

func (p *Pipeline) fromListing(ctx context.Context, b *builder.Builder, l model.RawListing) {
	res := taxonomy.Classify(l.ClassList)
	for _, t := range res.Types {
		b.AddType(t)
	}
	for _, c := range res.Circuits {
		b.AddCircuit(c)
	}

	if l.Title != "" {
		b.SetName(l.Title, builder.FirstWins)
	}
	if text := source.ContentText(l.Content); text != "" {
		b.SetDescription(text, builder.FirstWins)
	}
	if l.Slug != "" {
		b.SetSlug(l.Slug, builder.FirstWins)
	}

	if l.FeaturedImageSrc != "" && !p.opts.SkipImages {
		path, err := p.source.DownloadImage(ctx, l.FeaturedImageSrc)
		if err != nil {
			appLog.Error("image download failed", err, "id", b.ID(), "src", l.FeaturedImageSrc)
		} else {
			b.AddImage(path)
		}
	}

	if l.Link != "" {
		page, ok, err := p.source.FetchEventPage(ctx, l.Link)
		switch {
		case err != nil:
			appLog.Error("event page lookup failed", err, "id", b.ID(), "link", l.Link)
		case !ok:
			appLog.Debug("no event page link", "id", b.ID(), "link", l.Link)
		default:
			b.SetPage(page, builder.FirstWins)
		}
	}
}

func (p *Pipeline) fromCalendar(ctx context.Context, b *builder.Builder) error {
	cal, err := p.source.FetchCalendar(ctx, b.ID())
	if err != nil {
		appLog.Error("calendar fetch failed", err, "id", b.ID())
		return fmt.Errorf("calendar %d: %w", b.ID(), err)
	}

	if cal.Location != nil && *cal.Location != "" {
		b.SetLocation(*cal.Location, builder.FirstWins)
		b.SetLocality(*cal.Location, builder.FirstWins)
	}
	if cal.StartDate != nil {
		b.SetStartDate(*cal.StartDate, builder.FirstWins)
	}
	if cal.EndDate != nil {
		b.SetEndDate(*cal.EndDate, builder.FirstWins)
	}
	if cal.Description != nil && strings.TrimSpace(*cal.Description) != "" {
		b.SetDescription(*cal.Description, builder.FirstWins)
	}
	if cal.Summary != nil && *cal.Summary != "" {
		b.SetName(*cal.Summary, builder.FirstWins)
	}
	return nil
}

func (p *Pipeline) fromGeneration(ctx context.Context, b *builder.Builder) error {
	desc, ok := b.Description()
	if !ok || p.gen == nil {
		return nil
	}
	var failures []error

	short, err := p.gen.Summarize(ctx, desc)
	if err != nil {
		appLog.Error("summary generation failed", err, "id", b.ID())
		failures = append(failures, err)
	} else if short != "" {
		b.SetDescriptionShort(short, builder.FirstWins)
	}

	input := desc
	if name, ok := b.Name(); ok {
		input = name + "\n" + desc
	}
	inferred, err := p.gen.InferTypesAndDistances(ctx, input)
	if err != nil {
		appLog.Error("type inference failed", err, "id", b.ID())
		failures = append(failures, err)
	} else {
		for _, t := range inferred.Types {
			b.AddType(t)
		}
		for _, d := range inferred.Distances {
			b.AddDistance(d)
		}
	}
	return errors.Join(failures...)
}

func (p *Pipeline) fromGeocoder(ctx context.Context, b *builder.Builder) error {
	loc, ok := b.Location()
	if !ok || p.geo == nil {
		return nil
	}

	geo, err := p.geo.Geocode(ctx, loc)
	if err != nil {
		appLog.Error("geocoding failed", err, "id", b.ID(), "location", loc)
		return fmt.Errorf("geocode %q: %w", loc, err)
	}
	if geo == nil {
		appLog.Warn("location not resolved", "id", b.ID(), "location", loc)
		return nil
	}

	if geo.Name != "" {
		b.SetLocation(geo.Name, builder.Overwrite)
	}
	if geo.Locality != "" {
		b.SetLocality(geo.Locality, builder.Overwrite)
	}
	if geo.Country != "" {
		b.SetCountry(geo.Country, builder.Overwrite)
	}
	if geo.Coordinates != nil {
		b.SetCoordinates(*geo.Coordinates, builder.Overwrite)
	}
	if geo.AdministrativeAreaLevel1 != nil {
		b.SetAdministrativeAreaLevel1(*geo.AdministrativeAreaLevel1, builder.Overwrite)
	}
	if geo.AdministrativeAreaLevel2 != nil {
		b.SetAdministrativeAreaLevel2(*geo.AdministrativeAreaLevel2, builder.Overwrite)
	}
	if geo.AdministrativeAreaLevel3 != nil {
		b.SetAdministrativeAreaLevel3(*geo.AdministrativeAreaLevel3, builder.Overwrite)
	}
	if geo.DistrictCode != nil {
		b.SetDistrictCode(*geo.DistrictCode, builder.Overwrite)
	}
	return nil
}

func backfillDistances(b *builder.Builder) {
	if desc, ok := b.Description(); ok {
		for _, d := range taxonomy.ExtractDistances(desc) {
			b.AddDistance(d)
		}
	}
	for _, t := range b.Types() {
		if d, ok := taxonomy.StandardDistance(t); ok {
			b.AddDistance(d)
		}
	}
}
