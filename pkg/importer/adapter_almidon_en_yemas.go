package importer

import "github.com/hazyhaar/maestro/pkg/resolver"

func init() {
	Register(mustCompile(&Job{
		Name:     "almidon-en-yemas",
		Desc:     "Almidon en yemas: bud starch assays attached to published entities",
		Input:    "almidon_en_yemas.xlsx",
		Mode:     ModeAttach,
		Output:   "entrada_almidon_en_yemas.csv",
		Entities: EntityTable{Maestro: "entidades"},
		Config: resolver.Config{
			Dimensions: trialDimensions(),
			Measures: []resolver.Measure{
				{Source: "fecha"},
				{Source: "muestreo"},
				{Source: "peso(mg)", Output: "peso_yema_mg", Kind: resolver.KindNumber},
				{Source: "absorbancia", Kind: resolver.KindNumber},
				{Source: "conc. mg/g", Output: "concentracion_almidon_mg_por_g", Kind: resolver.KindNumber},
			},
		},
	}))
}
