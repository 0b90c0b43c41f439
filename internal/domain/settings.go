package domain

import "encoding/json"

// Settings is the structured application configuration. Each known section
// has a typed struct; sections the backend does not understand are preserved
// verbatim in Extensions so that saving settings never drops data written by
// newer or external tooling.
type Settings struct {
	System  SystemSettings  `json:"-"`
	Pricing PricingSettings `json:"-"`
	Stock   StockSettings   `json:"-"`
	Sales   SalesSettings   `json:"-"`
	Users   UserSettings    `json:"-"`

	Extensions map[string]json.RawMessage `json:"-"`
}

type SystemSettings struct {
	StoreName string `json:"nome_loja"`
	Currency  string `json:"moeda"`
}

type PricingSettings struct {
	DefaultTaxRatePercent      float64 `json:"taxa_imposto_padrao"`
	DefaultProfitMarginPercent float64 `json:"margem_lucro_padrao"`
}

type StockSettings struct {
	AllowNegativeStock bool `json:"permitir_estoque_negativo"`
	DefaultMinStock    int  `json:"estoque_minimo_padrao"`
}

type SalesSettings struct {
	AssociateSeller    bool    `json:"associar_vendedor"`
	MaxDiscountPercent float64 `json:"desconto_maximo_percentual"`
}

type UserSettings struct {
	DefaultRole string `json:"perfil_padrao"`
}

const (
	sectionSystem  = "sistema"
	sectionPricing = "precificacao"
	sectionStock   = "estoque"
	sectionSales   = "vendas"
	sectionUsers   = "usuarios"
)

func (s Settings) MarshalJSON() ([]byte, error) {
	sections := make(map[string]json.RawMessage, len(s.Extensions)+5)
	for key, raw := range s.Extensions {
		sections[key] = raw
	}
	for key, value := range map[string]any{
		sectionSystem:  s.System,
		sectionPricing: s.Pricing,
		sectionStock:   s.Stock,
		sectionSales:   s.Sales,
		sectionUsers:   s.Users,
	} {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		sections[key] = raw
	}
	return json.Marshal(sections)
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	sections := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &sections); err != nil {
		return err
	}

	known := map[string]any{
		sectionSystem:  &s.System,
		sectionPricing: &s.Pricing,
		sectionStock:   &s.Stock,
		sectionSales:   &s.Sales,
		sectionUsers:   &s.Users,
	}
	for key, raw := range sections {
		dest, ok := known[key]
		if !ok {
			if s.Extensions == nil {
				s.Extensions = make(map[string]json.RawMessage)
			}
			s.Extensions[key] = raw
			continue
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			return err
		}
	}
	return nil
}

// DefaultSettings returns the configuration a fresh store starts with.
func DefaultSettings() Settings {
	return Settings{
		System: SystemSettings{
			StoreName: "Mercadinho",
			Currency:  "BRL",
		},
		Pricing: PricingSettings{
			DefaultTaxRatePercent:      8,
			DefaultProfitMarginPercent: 30,
		},
		Stock: StockSettings{
			AllowNegativeStock: false,
			DefaultMinStock:    10,
		},
		Sales: SalesSettings{
			AssociateSeller:    true,
			MaxDiscountPercent: 20,
		},
		Users: UserSettings{
			DefaultRole: RoleSeller,
		},
	}
}
