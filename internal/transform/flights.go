package transform

import (
	"fmt"
	"math"
	"time"

	"skyetl/internal/schema"
	"skyetl/internal/source/opensky"
	"skyetl/pkg/records"
)

// Flight column names. They keep the OpenSky field spelling.
const (
	ColICAO24            = "icao24"
	ColFirstSeen         = "firstSeen"
	ColDepartureAirport  = "estDepartureAirport"
	ColLastSeen          = "lastSeen"
	ColArrivalAirport    = "estArrivalAirport"
	ColCallsign          = "callsign"
	ColDepartureDistance = "estDepartureAirportDistance"
	ColArrivalDistance   = "estArrivalAirportDistance"
)

// DefaultFlightsTable is the destination table when none is configured.
const DefaultFlightsTable = "opensky_flights"

const (
	departurePrefix = "departure_"
	arrivalPrefix   = "arrival_"
)

// FlightsTable describes the flights destination table. A flight is keyed by
// aircraft and first-seen time, so one aircraft flying twice in a window
// yields two rows. With enriched set, the departure_ and arrival_ airport
// columns are appended.
func FlightsTable(name string, enriched bool) schema.TableDescriptor {
	if name == "" {
		name = DefaultFlightsTable
	}
	td := schema.TableDescriptor{
		Name: name,
		Columns: []schema.Column{
			{Name: ColICAO24, Type: schema.Text},
			{Name: ColFirstSeen, Type: schema.Timestamp},
			{Name: ColDepartureAirport, Type: schema.Text, Nullable: true},
			{Name: ColLastSeen, Type: schema.Timestamp, Nullable: true},
			{Name: ColArrivalAirport, Type: schema.Text, Nullable: true},
			{Name: ColCallsign, Type: schema.Text, Nullable: true},
			{Name: ColDepartureDistance, Type: schema.Real, Nullable: true},
			{Name: ColArrivalDistance, Type: schema.Real, Nullable: true},
		},
		PrimaryKey: []string{ColICAO24, ColFirstSeen},
	}
	if enriched {
		td.Columns = append(td.Columns, AirportColumns(departurePrefix)...)
		td.Columns = append(td.Columns, AirportColumns(arrivalPrefix)...)
	}
	return td
}

// Flights reshapes raw API flights into records matching FlightsTable(_,
// false): unix seconds become UTC timestamps, the horizontal and vertical
// airport distances collapse into one Euclidean distance, and text fields are
// cleaned. Flights without an aircraft address or first-seen time are dropped
// and counted. A flight whose lastSeen precedes firstSeen fails the batch
// with ErrTransform.
func Flights(raw []opensky.Flight) ([]records.Record, int, error) {
	out := make([]records.Record, 0, len(raw))
	for i, f := range raw {
		if f.LastSeen != 0 && f.FirstSeen != 0 && f.LastSeen < f.FirstSeen {
			return nil, 0, fmt.Errorf("%w: flight %d (%s): lastSeen %d before firstSeen %d",
				ErrTransform, i, f.ICAO24, f.LastSeen, f.FirstSeen)
		}
		out = append(out, records.Record{
			ColICAO24:            f.ICAO24,
			ColFirstSeen:         unixUTC(f.FirstSeen),
			ColDepartureAirport:  deref(f.EstDepartureAirport),
			ColLastSeen:          unixUTC(f.LastSeen),
			ColArrivalAirport:    deref(f.EstArrivalAirport),
			ColCallsign:          deref(f.Callsign),
			ColDepartureDistance: distance(f.EstDepartureAirportHorizDistance, f.EstDepartureAirportVertDistance),
			ColArrivalDistance:   distance(f.EstArrivalAirportHorizDistance, f.EstArrivalAirportVertDistance),
		})
	}

	dropped := 0
	out = Chain{
		Normalize{Fields: []string{ColICAO24}},
		Normalize{Fields: []string{ColCallsign, ColDepartureAirport, ColArrivalAirport}, Upper: true},
		Require{Fields: []string{ColICAO24, ColFirstSeen}, Dropped: &dropped},
	}.Apply(out)
	return out, dropped, nil
}

func unixUTC(sec int64) any {
	if sec == 0 {
		return nil
	}
	return time.Unix(sec, 0).UTC()
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// distance is sqrt(h²+v²), or nil when either component is unknown.
func distance(h, v *float64) any {
	if h == nil || v == nil {
		return nil
	}
	return math.Hypot(*h, *v)
}
