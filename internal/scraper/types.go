package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

// Strategy: один способ достать значение(я) из фрагмента страницы
type Strategy interface {
	Describe() string
	Extract(scope *goquery.Selection) ([]string, error)
}

// StrategyFunc: стратегия из функции
type StrategyFunc func(scope *goquery.Selection) ([]string, error)

func (f StrategyFunc) Describe() string { return "func" }

func (f StrategyFunc) Extract(scope *goquery.Selection) ([]string, error) {
	return f(scope)
}

// Rule: стратегия, описанная в YAML.
//
// Три вида:
//   - css:      текст элементов
//   - css+attr: значение атрибута
//   - script:   JSON внутри <script> (опционально после marker), значение по path
//
// Скаляр в YAML: сокращение: "a.next::attr(href)" или просто "h1.doctor-name".
type Rule struct {
	CSS    string `yaml:"css,omitempty"`
	Attr   string `yaml:"attr,omitempty"`
	Script string `yaml:"script,omitempty"`
	Marker string `yaml:"marker,omitempty"`
	Path   string `yaml:"path,omitempty"`
	// Raw: отдать значение по path целиком JSON-текстом
	Raw bool `yaml:"raw,omitempty"`
}

func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*r = ParseRule(value.Value)
		return nil
	}
	type plain Rule
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// ParseRule разбирает сокращённую запись "css" / "css::attr(name)" / "css::text"
func ParseRule(s string) Rule {
	s = strings.TrimSpace(s)
	css, pseudo, found := strings.Cut(s, "::")
	if !found {
		return Rule{CSS: s}
	}
	css = strings.TrimSpace(css)
	pseudo = strings.TrimSpace(pseudo)
	if strings.HasPrefix(pseudo, "attr(") && strings.HasSuffix(pseudo, ")") {
		return Rule{CSS: css, Attr: strings.TrimSpace(pseudo[len("attr(") : len(pseudo)-1])}
	}
	return Rule{CSS: css}
}

func (r Rule) Describe() string {
	switch {
	case r.Script != "":
		return fmt.Sprintf("script(%s %s).%s", r.Script, r.Marker, r.Path)
	case r.Attr != "":
		return fmt.Sprintf("%s::attr(%s)", r.CSS, r.Attr)
	default:
		return r.CSS
	}
}

// Validate проверяет, что CSS-выражения компилируются
func (r Rule) Validate() error {
	if r.Script != "" {
		_, err := compile(r.Script)
		return err
	}
	if r.CSS == "" {
		return fmt.Errorf("rule has neither css nor script")
	}
	_, err := compile(r.CSS)
	return err
}

func (r Rule) Extract(scope *goquery.Selection) ([]string, error) {
	if r.Script != "" {
		return r.extractEmbedded(scope)
	}

	matcher, err := compile(r.CSS)
	if err != nil {
		return nil, err
	}

	var out []string
	scope.FindMatcher(matcher).Each(func(_ int, s *goquery.Selection) {
		if r.Attr != "" {
			if v, ok := s.Attr(r.Attr); ok {
				out = append(out, v)
			}
			return
		}
		out = append(out, s.Text())
	})
	return out, nil
}

// Chain: упорядоченный список стратегий для одного поля
type Chain []Rule

func (c Chain) Strategies() []Strategy {
	out := make([]Strategy, 0, len(c))
	for _, r := range c {
		out = append(out, r)
	}
	return out
}

// Rules: сокращённый конструктор цепочки
func Rules(specs ...string) Chain {
	c := make(Chain, 0, len(specs))
	for _, s := range specs {
		c = append(c, ParseRule(s))
	}
	return c
}

type ClinicSelectors struct {
	Container Chain `yaml:"container"`
	Name      Chain `yaml:"name"`
	Address   Chain `yaml:"address"`
	MapsLink  Chain `yaml:"maps_link"`
	// Embedded: запасной путь: список клиник JSON-текстом
	Embedded Chain `yaml:"embedded"`
}

type AvailabilitySelectors struct {
	Day   Chain `yaml:"day"`
	Title Chain `yaml:"title"`
	Slots Chain `yaml:"slots"`
}

type Selectors struct {
	ProfileLinks   Chain                 `yaml:"profile_links"`
	NextPage       Chain                 `yaml:"next_page"`
	Name           Chain                 `yaml:"name"`
	Specialization Chain                 `yaml:"specialization"`
	Experience     Chain                 `yaml:"experience"`
	Qualifications Chain                 `yaml:"qualifications"`
	Fees           Chain                 `yaml:"fees"`
	Rating         Chain                 `yaml:"rating"`
	ReviewsCount   Chain                 `yaml:"reviews_count"`
	Services       Chain                 `yaml:"services"`
	Phone          Chain                 `yaml:"phone"`
	Image          Chain                 `yaml:"image"`
	Clinic         ClinicSelectors       `yaml:"clinic"`
	Availability   AvailabilitySelectors `yaml:"availability"`
}

// Named: все цепочки с именами (для валидации и логов)
func (s *Selectors) Named() map[string]Chain {
	return map[string]Chain{
		"profile_links":      s.ProfileLinks,
		"next_page":          s.NextPage,
		"name":               s.Name,
		"specialization":     s.Specialization,
		"experience":         s.Experience,
		"qualifications":     s.Qualifications,
		"fees":               s.Fees,
		"rating":             s.Rating,
		"reviews_count":      s.ReviewsCount,
		"services":           s.Services,
		"phone":              s.Phone,
		"image":              s.Image,
		"clinic.container":   s.Clinic.Container,
		"clinic.name":        s.Clinic.Name,
		"clinic.address":     s.Clinic.Address,
		"clinic.maps_link":   s.Clinic.MapsLink,
		"clinic.embedded":    s.Clinic.Embedded,
		"availability.day":   s.Availability.Day,
		"availability.title": s.Availability.Title,
		"availability.slots": s.Availability.Slots,
	}
}

const ldJSON = `script[type="application/ld+json"]`

// DefaultSelectors: цепочки для текущей и прошлых вёрсток профиля
func DefaultSelectors() *Selectors {
	return &Selectors{
		ProfileLinks: Rules(
			`div.info-section a.doctor-name::attr(href)`,
			`a[data-qa-id="doctor_name"]::attr(href)`,
			`h2 a[href*="/doctor/"]::attr(href)`,
			`.listing-item h2 a::attr(href)`,
			`a[href*="/doctor/"]::attr(href)`,
		),
		NextPage: Rules(
			`li.next a::attr(href)`,
			`.pagination .next a::attr(href)`,
			`a[aria-label="Next"]::attr(href)`,
			`a[rel="next"]::attr(href)`,
		),
		Name: append(Rules(
			`h1.doctor-name`,
			`h1[data-qa-id="doctor_name"]`,
			`.doctor-profile h1`,
			`h1`,
		), Rule{Script: ldJSON, Path: "name"}),
		Specialization: append(Rules(
			`div.specialization`,
			`[data-qa-id="doctor_specialization"]`,
			`.doctor-specialization`,
			`.specialization-text`,
		), Rule{Script: ldJSON, Path: "medicalSpecialty"}),
		Experience: Rules(
			`div.experience`,
			`[data-qa-id="doctor_experience"]`,
			`.experience-text`,
		),
		Qualifications: Rules(
			`div.education`,
			`[data-qa-id="doctor_qualifications"]`,
			`.qualifications`,
		),
		Fees: Rules(
			`span.consultation-fee`,
			`[data-qa-id="consultation_fee"]`,
			`.fee-amount`,
			`.consultation-price`,
		),
		Rating: append(Rules(
			`span.common__star-rating__value`,
			`[data-qa-id="doctor_rating"]`,
			`.rating-value`,
		), Rule{Script: ldJSON, Path: "aggregateRating.ratingValue"}),
		ReviewsCount: append(Rules(
			`span.u-bold`,
			`[data-qa-id="review_count"]`,
			`.review-count`,
		), Rule{Script: ldJSON, Path: "aggregateRating.reviewCount"}),
		Services: Rules(
			`div.service-name`,
			`[data-qa-id="service"]`,
			`.service-item`,
			`.treatment-list li`,
		),
		Phone: append(Rules(
			`span.u-no-margin`,
			`[data-qa-id="phone_number"]`,
			`.phone-number`,
			`a[href^="tel:"]::attr(href)`,
		), Rule{Script: ldJSON, Path: "telephone"}),
		Image: append(Rules(
			`div.doctor-photo img::attr(src)`,
			`.doctor-image img::attr(src)`,
			`.profile-image img::attr(src)`,
			`img[alt*="doctor"], img[alt*="Doctor"]::attr(src)`,
		), Rule{Script: ldJSON, Path: "image"}),
		Clinic: ClinicSelectors{
			Container: Rules(
				`div.c-profile--clinic`,
				`.clinic-card`,
				`.clinic-info`,
				`[data-qa-id="clinic"]`,
			),
			Name: Rules(
				`h2.c-profile--clinic__name`,
				`.clinic-name`,
				`h3`,
				`.clinic-title`,
			),
			Address: Rules(
				`div.c-profile--clinic__address`,
				`.clinic-address`,
				`.address`,
			),
			MapsLink: Rules(
				`a.map-directions::attr(href)`,
				`a[href*="maps.google"]::attr(href)`,
				`a[href*="goo.gl"]::attr(href)`,
			),
			Embedded: Chain{
				{Script: "script", Marker: "window.__INITIAL_STATE__", Path: "doctor.clinics", Raw: true},
			},
		},
		Availability: AvailabilitySelectors{
			Day: Rules(
				`div.c-profile--clinic__day`,
				`.availability-day`,
				`.schedule-day`,
			),
			Title: Rules(
				`div.c-profile--clinic__day__title`,
				`.day-name`,
				`.day-title`,
			),
			Slots: Rules(
				`div.c-profile--clinic__day__timings`,
				`.time-slot`,
				`.timing`,
			),
		},
	}
}
