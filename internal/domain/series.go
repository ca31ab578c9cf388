package domain

import "time"

// PriceSeries es una serie de cierres indexada por tiempo para un símbolo.
type PriceSeries struct {
	Symbol    string
	Timeframe string
	Times     []time.Time
	Closes    []float64
}

// Len devuelve el número de observaciones.
func (s PriceSeries) Len() int { return len(s.Closes) }

// Last devuelve el último cierre, o 0 si la serie está vacía.
func (s PriceSeries) Last() float64 {
	if len(s.Closes) == 0 {
		return 0
	}
	return s.Closes[len(s.Closes)-1]
}

// AlignSeries alinea dos series sobre su índice temporal común y devuelve los
// cierres emparejados en orden cronológico. Las observaciones sin contraparte
// en la otra serie se descartan.
func AlignSeries(a, b PriceSeries) (av, bv []float64) {
	if len(a.Times) == 0 || len(b.Times) == 0 {
		return nil, nil
	}

	idx := make(map[int64]float64, len(b.Times))
	for i, t := range b.Times {
		idx[t.Unix()] = b.Closes[i]
	}

	av = make([]float64, 0, len(a.Times))
	bv = make([]float64, 0, len(a.Times))
	for i, t := range a.Times {
		if v, ok := idx[t.Unix()]; ok {
			av = append(av, a.Closes[i])
			bv = append(bv, v)
		}
	}
	return av, bv
}
