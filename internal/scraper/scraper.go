package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"practo-harvester/internal/normalize"
	"practo-harvester/internal/observability"
)

// Resolver проходит цепочку стратегий по порядку; побеждает первая,
// давшая хотя бы одно непустое значение. Ошибка или паника стратегии
// не прерывает цепочку: пишется предупреждение и пробуется следующая.
type Resolver struct {
	logger *observability.Logger
}

func NewResolver(logger *observability.Logger) *Resolver {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Resolver{logger: logger}
}

// Resolve: все непустые значения победившей стратегии (обрезанные)
func (r *Resolver) Resolve(scope *goquery.Selection, chain []Strategy) []string {
	if scope == nil {
		return nil
	}
	for _, strategy := range chain {
		values, err := r.run(strategy, scope)
		if err != nil {
			r.logger.Warn("Selector strategy failed",
				"strategy", strategy.Describe(),
				"error", err.Error(),
			)
			continue
		}

		var kept []string
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			return kept
		}
	}
	return nil
}

// Text: первое значение или ""
func (r *Resolver) Text(scope *goquery.Selection, chain []Strategy) string {
	values := r.Resolve(scope, chain)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// List: все значения победившей стратегии или пустой список
func (r *Resolver) List(scope *goquery.Selection, chain []Strategy) []string {
	values := r.Resolve(scope, chain)
	if values == nil {
		return []string{}
	}
	return values
}

// Elements: элементы первого CSS-правила, нашедшего хоть что-то
func (r *Resolver) Elements(scope *goquery.Selection, chain Chain) *goquery.Selection {
	for _, rule := range chain {
		if rule.CSS == "" {
			continue
		}
		matcher, err := compile(rule.CSS)
		if err != nil {
			r.logger.Warn("Selector strategy failed", "strategy", rule.Describe(), "error", err.Error())
			continue
		}
		found := scope.FindMatcher(matcher)
		if found.Length() > 0 {
			return found
		}
	}
	return nil
}

func (r *Resolver) run(strategy Strategy, scope *goquery.Selection) (values []string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			values = nil
			err = fmt.Errorf("strategy panicked: %v", rec)
		}
	}()
	return strategy.Extract(scope)
}

// Extractor собирает сырую запись врача со страницы профиля и ссылки со страницы листинга
type Extractor struct {
	selectors *Selectors
	resolver  *Resolver
	baseURL   string
	region    string
	logger    *observability.Logger
}

func NewExtractor(selectors *Selectors, baseURL, region string, logger *observability.Logger) *Extractor {
	if selectors == nil {
		selectors = DefaultSelectors()
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Extractor{
		selectors: selectors,
		resolver:  NewResolver(logger),
		baseURL:   strings.TrimRight(baseURL, "/"),
		region:    strings.ToLower(region),
		logger:    logger,
	}
}

func (e *Extractor) Resolver() *Resolver {
	return e.resolver
}

// ParseDocument разбирает HTML
func ParseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// ExtractDoctor извлекает сырую запись; отсутствующие поля: Null
func (e *Extractor) ExtractDoctor(doc *goquery.Document, pageURL string) normalize.RawRecord {
	s := e.selectors
	root := doc.Selection
	raw := normalize.RawRecord{}

	setText := func(field, value string) {
		if value != "" {
			raw[field] = normalize.Text(value)
		}
	}

	setText(normalize.FieldName, e.resolver.Text(root, s.Name.Strategies()))
	setText(normalize.FieldSpecialization, e.resolver.Text(root, s.Specialization.Strategies()))
	setText(normalize.FieldQualifications, e.resolver.Text(root, s.Qualifications.Strategies()))

	if exp := e.resolver.Text(root, s.Experience.Strategies()); exp != "" {
		if years, ok := FirstInt(exp); ok {
			raw[normalize.FieldExperience] = normalize.Number(float64(years))
		} else {
			raw[normalize.FieldExperience] = normalize.Text(exp)
		}
	}

	if fee := e.resolver.Text(root, s.Fees.Strategies()); fee != "" {
		raw[normalize.FieldFees] = normalize.Text(CleanFee(fee))
	}

	if rating, ok := FirstDecimal(e.resolver.Text(root, s.Rating.Strategies())); ok {
		raw[normalize.FieldRating] = normalize.Number(rating)
	}
	if reviews, ok := FirstInt(strings.ReplaceAll(e.resolver.Text(root, s.ReviewsCount.Strategies()), ",", "")); ok {
		raw[normalize.FieldReviewsCount] = normalize.Number(float64(reviews))
	}

	if services := e.resolver.List(root, s.Services.Strategies()); len(services) > 0 {
		raw[normalize.FieldServices] = normalize.Texts(services)
	}

	setText(normalize.FieldPhone, CleanPhone(e.resolver.Text(root, s.Phone.Strategies())))

	if img := e.resolver.Text(root, s.Image.Strategies()); img != "" {
		raw[normalize.FieldImageURL] = normalize.Text(AbsoluteURL(img, e.baseURL+"/"))
	}

	if clinics, ok := e.clinics(root); ok {
		raw[normalize.FieldClinics] = clinics
	}
	if availability, ok := e.availability(root); ok {
		raw[normalize.FieldAvailability] = availability
	}

	setText(normalize.FieldProfileURL, pageURL)
	return raw
}

func (e *Extractor) clinics(root *goquery.Selection) (normalize.Value, bool) {
	s := e.selectors.Clinic
	containers := e.resolver.Elements(root, s.Container)
	if containers == nil {
		// Клиники только во встроенных данных страницы
		if embedded := e.resolver.Text(root, s.Embedded.Strategies()); embedded != "" {
			return normalize.Text(embedded), true
		}
		return normalize.Null(), false
	}

	var items []normalize.Value
	containers.Each(func(_ int, c *goquery.Selection) {
		clinic := map[string]normalize.Value{}
		if name := e.resolver.Text(c, s.Name.Strategies()); name != "" {
			clinic["name"] = normalize.Text(name)
		}
		if address := e.resolver.Text(c, s.Address.Strategies()); address != "" {
			clinic["address"] = normalize.Text(address)
		}
		if link := e.resolver.Text(c, s.MapsLink.Strategies()); link != "" {
			clinic["google_maps_link"] = normalize.Text(link)
		}
		if len(clinic) > 0 {
			items = append(items, normalize.Mapping(clinic))
		}
	})
	if len(items) == 0 {
		return normalize.Null(), false
	}
	return normalize.List(items...), true
}

func (e *Extractor) availability(root *goquery.Selection) (normalize.Value, bool) {
	s := e.selectors.Availability
	days := e.resolver.Elements(root, s.Day)
	if days == nil {
		return normalize.Null(), false
	}

	schedule := map[string]normalize.Value{}
	days.Each(func(_ int, d *goquery.Selection) {
		title := collapse(e.resolver.Text(d, s.Title.Strategies()))
		if title == "" {
			return
		}
		slots := e.resolver.List(d, s.Slots.Strategies())
		for i := range slots {
			slots[i] = collapse(slots[i])
		}
		schedule[title] = normalize.Texts(slots)
	})
	if len(schedule) == 0 {
		return normalize.Null(), false
	}
	return normalize.Mapping(schedule), true
}

// ProfileLinks: абсолютные ссылки на профили врачей региона, без повторов в пределах страницы.
// Фильтр региона стоит внутри цепочки: правило, нашедшее только чужие ссылки,
// не побеждает, и пробуется следующее.
func (e *Extractor) ProfileLinks(doc *goquery.Document, pageURL string) []string {
	rules := e.selectors.ProfileLinks.Strategies()
	chain := make([]Strategy, 0, len(rules))
	for _, rule := range rules {
		chain = append(chain, profileLinkStrategy{inner: rule, extractor: e, pageURL: pageURL})
	}
	hrefs := e.resolver.List(doc.Selection, chain)

	seen := make(map[string]struct{}, len(hrefs))
	links := make([]string, 0, len(hrefs))
	for _, abs := range hrefs {
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	}
	return links
}

// NextPage: абсолютная ссылка на следующую страницу листинга или ""
func (e *Extractor) NextPage(doc *goquery.Document, pageURL string) string {
	href := e.resolver.Text(doc.Selection, e.selectors.NextPage.Strategies())
	if href == "" {
		return ""
	}
	return normalizeURL(AbsoluteURL(href, pageURL))
}

// ListingLinks разбирает страницу листинга: ссылки на профили и следующая страница
func (e *Extractor) ListingLinks(body []byte, pageURL string) ([]string, string, error) {
	doc, err := ParseDocument(body)
	if err != nil {
		return nil, "", err
	}
	return e.ProfileLinks(doc, pageURL), e.NextPage(doc, pageURL), nil
}

// profileLinkStrategy отдаёт только абсолютные ссылки на профили региона
type profileLinkStrategy struct {
	inner     Strategy
	extractor *Extractor
	pageURL   string
}

func (s profileLinkStrategy) Describe() string { return s.inner.Describe() }

func (s profileLinkStrategy) Extract(scope *goquery.Selection) ([]string, error) {
	hrefs, err := s.inner.Extract(scope)
	if err != nil {
		return nil, err
	}
	var links []string
	for _, href := range hrefs {
		if href = strings.TrimSpace(href); href == "" {
			continue
		}
		abs := normalizeURL(AbsoluteURL(href, s.pageURL))
		if s.extractor.isProfileLink(abs) {
			links = append(links, abs)
		}
	}
	return links, nil
}

func (e *Extractor) isProfileLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	if !strings.Contains(path, "/doctor/") {
		return false
	}
	if e.region == "" {
		return true
	}
	return strings.HasPrefix(path, "/"+e.region+"/")
}
