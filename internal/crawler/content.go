package crawler

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/trendwatch-io/trendwatch/internal/models"
)

// thsContainers are the article-body containers used by 10jqka pages, in
// priority order.
var thsContainers = []string{"div.main-text", "div.atc-content"}

// genericContainers cover the common layouts of RSS-linked article pages.
var genericContainers = []string{"article", "div.article-content", "div.post-content", "div.content"}

// ContentFetcher retrieves full article bodies. Each fetch uses a fresh Colly
// collector with per-domain rate limiting so batch retrieval stays polite to
// the upstream site.
type ContentFetcher struct {
	userAgent string
	timeout   time.Duration
	delay     time.Duration
}

// NewContentFetcher creates a fetcher. delay is the per-domain gap between
// requests enforced by the collector's limit rule.
func NewContentFetcher(timeout, delay time.Duration) *ContentFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if delay < 0 {
		delay = 0
	}
	return &ContentFetcher{
		userAgent: defaultUserAgent,
		timeout:   timeout,
		delay:     delay,
	}
}

// newCollector builds a fresh collector per fetch to avoid state leakage
// across pages. DetectCharset converts the GBK pages to UTF-8.
func (f *ContentFetcher) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.AllowURLRevisit(),
		colly.MaxDepth(1),
		colly.DetectCharset(),
	)
	c.SetRequestTimeout(f.timeout)

	_ = c.Limit(&colly.LimitRule{
		DomainGlob: "*",
		Delay:      f.delay,
	})

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	})

	return c
}

// FetchArticle retrieves a 10jqka article body. Pages on news.10jqka.com.cn
// are often mirrored on stock.10jqka.com.cn, so that rewrite is tried as a
// fallback.
func (f *ContentFetcher) FetchArticle(ctx context.Context, pageURL string) (string, models.FetchStatus) {
	if pageURL == "" {
		return "", models.StatusEmptyResult
	}

	candidates := []string{pageURL}
	if strings.Contains(pageURL, "news.10jqka.com.cn") {
		candidates = append(candidates,
			strings.Replace(pageURL, "news.10jqka.com.cn", "stock.10jqka.com.cn", 1))
	}

	for _, u := range candidates {
		content, status := f.fetchFrom(ctx, u, thsContainers)
		if status == models.StatusSuccess && content != "" {
			return content, status
		}
	}
	return "", models.StatusEmptyResult
}

// FetchPage retrieves an arbitrary article page using the generic container
// list. Used by sources whose item URLs point at external sites.
func (f *ContentFetcher) FetchPage(ctx context.Context, pageURL string) (string, models.FetchStatus) {
	if pageURL == "" {
		return "", models.StatusEmptyResult
	}
	return f.fetchFrom(ctx, pageURL, genericContainers)
}

func (f *ContentFetcher) fetchFrom(ctx context.Context, pageURL string, containers []string) (string, models.FetchStatus) {
	if err := ctx.Err(); err != nil {
		return "", models.StatusTimeout
	}

	c := f.newCollector()

	var html string
	c.OnResponse(func(r *colly.Response) {
		html = string(r.Body)
	})

	if err := c.Visit(pageURL); err != nil {
		return "", classifyNetErr(err)
	}
	c.Wait()

	if html == "" {
		return "", models.StatusEmptyResult
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", models.StatusParseError
	}

	var container *goquery.Selection
	for _, sel := range containers {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			container = s
			break
		}
	}
	if container == nil {
		return "", models.StatusParseError
	}

	if text := extractBody(container); text != "" {
		return text, models.StatusSuccess
	}
	return "", models.StatusEmptyResult
}

// extractBody pulls readable text out of an article container: paragraph
// texts with boilerplate and near-empty lines dropped and duplicates removed,
// falling back to the container's raw text when it holds no paragraphs.
func extractBody(container *goquery.Selection) string {
	container.Find("script, style").Remove()

	var texts []string
	seen := map[string]struct{}{}
	container.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if text == "" || strings.HasPrefix(text, "关注同花顺财经") || len([]rune(text)) <= 5 {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		texts = append(texts, text)
	})
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}

	var lines []string
	for _, line := range strings.Split(container.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
