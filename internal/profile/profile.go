// Package profile turns a farm profile into the flat-ish dataset the rule
// evaluator reads, adding derived attributes.
package profile

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/twpayne/go-geom"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/subsidy-match/internal/eval"
)

// FarmProfile is what an applicant declares about their holding.
type FarmProfile struct {
	UserID   string         `json:"user_id" yaml:"user_id"`
	Owner    Owner          `json:"owner" yaml:"owner"`
	Business Business       `json:"business" yaml:"business"`
	Region   string         `json:"region,omitempty" yaml:"region,omitempty"`
	Fields   []Field        `json:"fields,omitempty" yaml:"fields,omitempty"`
	Cattle   []Cattle       `json:"cattle,omitempty" yaml:"cattle,omitempty"`
	Animals  []Animal       `json:"animals,omitempty" yaml:"animals,omitempty"`
	Vehicles []Vehicle      `json:"vehicles,omitempty" yaml:"vehicles,omitempty"`
	Finance  *Finance       `json:"finance,omitempty" yaml:"finance,omitempty"`
	Extra    map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"` // copied into the dataset as-is
}

// Owner is the applicant.
type Owner struct {
	FirstName string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	BirthDate string `json:"birth_date,omitempty" yaml:"birth_date,omitempty"` // 2006-01-02
	Age       *int   `json:"age,omitempty" yaml:"age,omitempty"`
	Verified  bool   `json:"verified" yaml:"verified"`
	IsOwner   bool   `json:"is_owner" yaml:"is_owner"`
}

// Business is the legal entity running the farm.
type Business struct {
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
	County string `json:"county,omitempty" yaml:"county,omitempty"`
}

// Field is one parcel. Coords is an outer ring in projected metres; it is
// used for the area when SizeHa is not given.
type Field struct {
	ID         string       `json:"id,omitempty" yaml:"id,omitempty"`
	CropType   string       `json:"crop_type,omitempty" yaml:"crop_type,omitempty"`
	SizeHa     *float64     `json:"size_ha,omitempty" yaml:"size_ha,omitempty"`
	Coords     [][2]float64 `json:"coords,omitempty" yaml:"coords,omitempty"`
	SoilType   string       `json:"soil_type,omitempty" yaml:"soil_type,omitempty"`
	Fertiliser string       `json:"fertiliser,omitempty" yaml:"fertiliser,omitempty"`
	Herbicide  string       `json:"herbicide,omitempty" yaml:"herbicide,omitempty"`
	Protected  bool         `json:"protected,omitempty" yaml:"protected,omitempty"`
}

// Cattle is a herd of one type.
type Cattle struct {
	Type   string `json:"type" yaml:"type"`
	Amount int    `json:"amount" yaml:"amount"`
}

// Animal is an individually registered animal.
type Animal struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Species   string `json:"species" yaml:"species"`
	Sex       string `json:"sex,omitempty" yaml:"sex,omitempty"`
	BirthDate string `json:"birth_date,omitempty" yaml:"birth_date,omitempty"`
}

// Vehicle is a piece of machinery.
type Vehicle struct {
	Type            string `json:"type" yaml:"type"`
	Brand           string `json:"brand,omitempty" yaml:"brand,omitempty"`
	FabricationYear int    `json:"fabrication_year,omitempty" yaml:"fabrication_year,omitempty"`
}

// Finance is the latest yearly figures.
type Finance struct {
	YearlyIncome   float64 `json:"yearly_income" yaml:"yearly_income"`
	YearlyExpenses float64 `json:"yearly_expenses" yaml:"yearly_expenses"`
}

var (
	vineMarkers      = []string{"vine", "vineyard", "grape", "vita", "vie", "viticol"}
	protectedMarkers = []string{"greenhouse", "polytunnel", "protected", "sera", "solar", "protejat"}
)

// Dataset flattens the profile. asOf is used for ages.
//
// Derived keys: farm.size_ha, farm.field_count, farm.crop_types,
// farm.has_vines, farm.has_protected, livestock.total_animals,
// livestock.types, machinery.count, machinery.types, machinery.oldest_year,
// finance.income, finance.expenses, finance.net, owner.age, region.
func (p *FarmProfile) Dataset(asOf time.Time) eval.Dataset {
	ds := eval.Dataset{
		"as_of": asOf.Format("2006-01-02"),
	}
	for k, v := range p.Extra {
		ds[k] = v
	}

	owner := map[string]any{
		"verified": p.Owner.Verified,
		"is_owner": p.Owner.IsOwner,
	}
	if age, ok := p.Owner.age(asOf); ok {
		owner["age"] = age
	}
	ds["owner"] = owner

	business := map[string]any{}
	if p.Business.Type != "" {
		business["type"] = p.Business.Type
	}
	if p.Business.County != "" {
		business["county"] = p.Business.County
	}
	ds["business"] = business

	if p.Region != "" {
		ds["region"] = p.Region
	}

	ds["farm"], ds["fields"] = p.farm()
	ds["livestock"], ds["cattle"], ds["animals"] = p.livestock()
	ds["machinery"], ds["vehicles"] = p.machinery()

	if p.Finance != nil {
		ds["finance"] = map[string]any{
			"income":   p.Finance.YearlyIncome,
			"expenses": p.Finance.YearlyExpenses,
			"net":      p.Finance.YearlyIncome - p.Finance.YearlyExpenses,
		}
	}
	return ds
}

func (p *FarmProfile) farm() (map[string]any, []any) {
	var total float64
	var hasVines, hasProtected bool
	crops := []any{}
	seen := map[string]bool{}
	records := make([]any, 0, len(p.Fields))

	for _, f := range p.Fields {
		size := f.hectares()
		total += size

		plain := plainLower(f.CropType)
		if hasAny(plain, vineMarkers) {
			hasVines = true
		}
		if f.Protected || hasAny(plain, protectedMarkers) {
			hasProtected = true
		}
		if f.CropType != "" && !seen[plain] {
			seen[plain] = true
			crops = append(crops, f.CropType)
		}

		rec := map[string]any{"size_ha": round2(size)}
		if f.CropType != "" {
			rec["crop_type"] = f.CropType
		}
		if f.SoilType != "" {
			rec["soil_type"] = f.SoilType
		}
		if f.Fertiliser != "" {
			rec["fertiliser"] = f.Fertiliser
		}
		if f.Herbicide != "" {
			rec["herbicide"] = f.Herbicide
		}
		records = append(records, rec)
	}

	return map[string]any{
		"size_ha":       round2(total),
		"field_count":   len(p.Fields),
		"crop_types":    crops,
		"has_vines":     hasVines,
		"has_protected": hasProtected,
	}, records
}

func (p *FarmProfile) livestock() (map[string]any, []any, []any) {
	total := 0
	types := []any{}
	seen := map[string]bool{}
	herds := make([]any, 0, len(p.Cattle))
	for _, c := range p.Cattle {
		total += c.Amount
		if c.Type != "" && !seen[c.Type] {
			seen[c.Type] = true
			types = append(types, c.Type)
		}
		herds = append(herds, map[string]any{"type": c.Type, "amount": c.Amount})
	}

	animals := make([]any, 0, len(p.Animals))
	for _, a := range p.Animals {
		rec := map[string]any{"species": a.Species}
		if a.Sex != "" {
			rec["sex"] = a.Sex
		}
		if a.BirthDate != "" {
			rec["birth_date"] = a.BirthDate
		}
		animals = append(animals, rec)
		if a.Species != "" && !seen[a.Species] {
			seen[a.Species] = true
			types = append(types, a.Species)
		}
	}
	// Registered animals only count when no herd totals are declared.
	if len(p.Cattle) == 0 {
		total = len(p.Animals)
	}

	return map[string]any{
		"total_animals": total,
		"types":         types,
	}, herds, animals
}

func (p *FarmProfile) machinery() (map[string]any, []any) {
	types := []any{}
	seen := map[string]bool{}
	oldest := 0
	records := make([]any, 0, len(p.Vehicles))
	for _, v := range p.Vehicles {
		if v.Type != "" && !seen[v.Type] {
			seen[v.Type] = true
			types = append(types, v.Type)
		}
		if v.FabricationYear > 0 && (oldest == 0 || v.FabricationYear < oldest) {
			oldest = v.FabricationYear
		}
		rec := map[string]any{"type": v.Type}
		if v.Brand != "" {
			rec["brand"] = v.Brand
		}
		if v.FabricationYear > 0 {
			rec["fabrication_year"] = v.FabricationYear
		}
		records = append(records, rec)
	}

	m := map[string]any{
		"count": len(p.Vehicles),
		"types": types,
	}
	if oldest > 0 {
		m["oldest_year"] = oldest
	}
	return m, records
}

func (o Owner) age(asOf time.Time) (int, bool) {
	if o.Age != nil {
		return *o.Age, true
	}
	if o.BirthDate == "" {
		return 0, false
	}
	born, err := time.Parse("2006-01-02", o.BirthDate)
	if err != nil {
		return 0, false
	}
	age := asOf.Year() - born.Year()
	if asOf.Month() < born.Month() || (asOf.Month() == born.Month() && asOf.Day() < born.Day()) {
		age--
	}
	return age, true
}

func (f Field) hectares() float64 {
	if f.SizeHa != nil {
		return *f.SizeHa
	}
	return PolygonHectares(f.Coords)
}

// PolygonHectares returns the area of a ring given in projected metres.
// Rings with fewer than three points have no area.
func PolygonHectares(ring [][2]float64) float64 {
	if len(ring) < 3 {
		return 0
	}
	flat := make([]float64, 0, 2*(len(ring)+1))
	for _, c := range ring {
		flat = append(flat, c[0], c[1])
	}
	if ring[0] != ring[len(ring)-1] {
		flat = append(flat, ring[0][0], ring[0][1])
	}
	poly := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
	return math.Abs(poly.Area()) / 10000
}

func hasAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func plainLower(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
