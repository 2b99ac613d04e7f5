package importer

import "github.com/hazyhaar/maestro/pkg/resolver"

func init() {
	Register(mustCompile(&Job{
		Name:     "caida-de-hojas",
		Desc:     "Caida de hojas: leaf fall percentages per experimental unit",
		Input:    "entrada_caida_de_hojas.csv",
		Mode:     ModeResolve,
		Output:   "entrada_caida_de_hojas_with_entity_id.csv",
		Entities: EntityTable{Maestro: "entidades"},
		Config: resolver.Config{
			Dimensions: trialDimensions(),
			Measures: []resolver.Measure{
				{Source: "fecha"},
				{Source: "a %", Output: "porcentaje_hojas_amarillas", Kind: resolver.KindNumber},
				{Source: "va %", Output: "porcentaje_hojas_verde_amarillas", Kind: resolver.KindNumber},
				{Source: "v%", Output: "porcentaje_hojas_verdes", Kind: resolver.KindNumber},
				{Source: "ch %", Output: "porcentaje_hojas_caidas", Kind: resolver.KindNumber},
				{Source: "d%", Output: "porcentaje_hojas_danadas", Kind: resolver.KindNumber},
			},
		},
	}))
}

// trialDimensions identifies a field-trial experimental unit. Zone names are
// recorded as "lugar" in the field sheets.
func trialDimensions() []resolver.Dimension {
	return []resolver.Dimension{
		{Name: "zona", Source: "lugar", Reference: "zonas", Spelling: zoneSpelling()},
		{Name: "variedad", Reference: "variedades"},
		{Name: "tratamiento", Reference: "tratamientos"},
		{Name: "ue", Output: "unidad_experimental", Normalize: "label"},
	}
}

func zoneSpelling() map[string]string {
	return map[string]string{
		"teno -prado":              "teno prado",
		"teno -sta ana":            "santa ana",
		"los niches sta magdalena": "santa magdalena",
		"los niches- marengo":      "wapri",
	}
}
