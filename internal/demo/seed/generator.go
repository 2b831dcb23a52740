package seed

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

type Socio struct {
	ID           int64
	Nombre       string
	Sucursal     string
	FechaAlta    time.Time
	Activo       bool
	SaldoAhorro  float64
	SaldoCredito float64
}

var (
	nombres    = []string{"María", "José", "Ana", "Luis", "Carmen", "Juan", "Rosa", "Pedro", "Elena", "Miguel", "Lucía", "Jorge"}
	apellidos  = []string{"García", "Hernández", "López", "Martínez", "González", "Pérez", "Rodríguez", "Sánchez", "Ramírez", "Torres"}
	sucursales = []string{"Centro", "Norte", "Sur", "Oriente", "Poniente"}
)

// Generator produces a reproducible stream of members for a given seed.
type Generator struct {
	rnd      *rand.Rand
	sequence int64
	since    time.Time
	now      func() time.Time
}

func NewGenerator(seed int64, since time.Time) *Generator {
	return &Generator{
		rnd:   rand.New(rand.NewSource(seed)),
		since: since.UTC(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (g *Generator) Next() Socio {
	g.sequence++
	activo := g.rnd.Intn(100) < 80
	ahorro := round2(g.rnd.ExpFloat64() * 8000)
	credito := 0.0
	if g.rnd.Intn(100) < 45 {
		credito = round2(5000 + g.rnd.Float64()*95000)
	}
	if !activo {
		ahorro = round2(ahorro / 10)
	}

	return Socio{
		ID:           g.sequence,
		Nombre:       fmt.Sprintf("%s %s %s", pickOne(g.rnd, nombres), pickOne(g.rnd, apellidos), pickOne(g.rnd, apellidos)),
		Sucursal:     pickOne(g.rnd, sucursales),
		FechaAlta:    g.pickDate(),
		Activo:       activo,
		SaldoAhorro:  ahorro,
		SaldoCredito: credito,
	}
}

func (g *Generator) pickDate() time.Time {
	days := int(g.now().Sub(g.since).Hours() / 24)
	if days <= 0 {
		return g.since
	}
	return g.since.AddDate(0, 0, g.rnd.Intn(days+1))
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
