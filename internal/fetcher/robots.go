package fetcher

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"practo-harvester/internal/observability"
)

// AttemptFunc: одна попытка запроса; Fetcher передаёт сюда попытку под
// своим ограничителем темпа
type AttemptFunc func(ctx context.Context, req *Request) (*FetchResponse, error)

type RobotsCache struct {
	cache     map[string]*RobotsTxt
	ttl       time.Duration
	userAgent string
	mu        sync.RWMutex
	inflight  singleflight.Group
	logger    *observability.Logger
}

type RobotsTxt struct {
	rules     []robotsRule
	expiresAt time.Time
}

type robotsRule struct {
	prefix string
	allow  bool
}

func NewRobotsCache(ttl time.Duration, userAgent string, logger *observability.Logger) *RobotsCache {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &RobotsCache{
		cache:     make(map[string]*RobotsTxt),
		ttl:       ttl,
		userAgent: userAgent,
		logger:    logger,
	}
}

// IsAllowed проверяет URL по robots.txt его хоста. Недоступный robots.txt
// трактуется как "всё разрешено". Одновременные промахи кэша по одному
// хосту делают один запрос.
func (rc *RobotsCache) IsAllowed(ctx context.Context, target *url.URL, fetch AttemptFunc) bool {
	origin := target.Scheme + "://" + target.Host

	if cached, ok := rc.lookup(origin); ok {
		return cached.Allowed(target)
	}

	v, _, _ := rc.inflight.Do(origin, func() (interface{}, error) {
		if cached, ok := rc.lookup(origin); ok {
			return cached, nil
		}
		robots := rc.load(ctx, origin, fetch)

		rc.mu.Lock()
		rc.cache[origin] = robots
		rc.mu.Unlock()
		return robots, nil
	})
	return v.(*RobotsTxt).Allowed(target)
}

func (rc *RobotsCache) lookup(origin string) (*RobotsTxt, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	cached, exists := rc.cache[origin]
	if !exists || !time.Now().Before(cached.expiresAt) {
		return nil, false
	}
	return cached, true
}

func (rc *RobotsCache) load(ctx context.Context, origin string, fetch AttemptFunc) *RobotsTxt {
	robots := &RobotsTxt{expiresAt: time.Now().Add(rc.ttl)}

	robotsURL := fmt.Sprintf("%s/robots.txt", origin)
	resp, err := fetch(ctx, &Request{URL: robotsURL, Header: http.Header{}})
	switch {
	case err != nil:
		// Network error: assume allowed
		rc.logger.Debug("robots.txt unavailable", "url", robotsURL, "error", err.Error())
	case resp.StatusCode != http.StatusOK:
		// No robots.txt: assume allowed
		rc.logger.Debug("robots.txt missing", "url", robotsURL, "status", resp.StatusCode)
	default:
		robots.rules = ParseRobots(string(resp.Body), rc.userAgent)
	}
	return robots
}

// Allowed: правило с самым длинным совпавшим префиксом; при равенстве побеждает Allow
func (r *RobotsTxt) Allowed(target *url.URL) bool {
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}

	best := -1
	allowed := true
	for _, rule := range r.rules {
		if !strings.HasPrefix(path, rule.prefix) {
			continue
		}
		if len(rule.prefix) > best || (len(rule.prefix) == best && rule.allow) {
			best = len(rule.prefix)
			allowed = rule.allow
		}
	}
	return allowed
}

// ParseRobots выбирает группу для нашего агента (по вхождению токена),
// иначе группу "*". Wildcard-шаблоны внутри путей не поддерживаются.
func ParseRobots(content, userAgent string) []robotsRule {
	agent := strings.ToLower(userAgent)

	var (
		specific, generic []robotsRule
		groupAgents       []string
		inRules           bool
		matchedSpecific   bool
	)

	flush := func(rule robotsRule) {
		for _, a := range groupAgents {
			switch {
			case a == "*":
				generic = append(generic, rule)
			case a != "" && agent != "" && strings.Contains(agent, a):
				specific = append(specific, rule)
			}
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if inRules {
				groupAgents = nil
				inRules = false
			}
			a := strings.ToLower(value)
			if a != "*" && a != "" && agent != "" && strings.Contains(agent, a) {
				matchedSpecific = true
			}
			groupAgents = append(groupAgents, a)
		case "disallow", "allow":
			inRules = true
			if value == "" {
				// Пустой Disallow: разрешено всё
				continue
			}
			flush(robotsRule{prefix: value, allow: key == "allow"})
		}
	}

	if matchedSpecific {
		return specific
	}
	return generic
}
