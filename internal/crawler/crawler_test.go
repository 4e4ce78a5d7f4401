package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

type fakePage struct {
	status int
	html   string
	err    error
}

// fakeBrowser replays scripted pages per URL; the last page of a script repeats.
type fakeBrowser struct {
	mu          sync.Mutex
	pages       map[string][]fakePage
	current     string
	navigations []string
	selectorErr error
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{pages: map[string][]fakePage{}}
}

func (f *fakeBrowser) script(url string, pages ...fakePage) {
	f.pages[url] = append(f.pages[url], pages...)
}

func (f *fakeBrowser) Navigate(_ context.Context, url string, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	queue := f.pages[url]
	if len(queue) == 0 {
		return 0, fmt.Errorf("no page scripted for %s", url)
	}
	page := queue[0]
	if len(queue) > 1 {
		f.pages[url] = queue[1:]
	}
	if page.err != nil {
		f.current = ""
		return 0, page.err
	}
	f.current = page.html
	return page.status, nil
}

func (f *fakeBrowser) HTML(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeBrowser) WaitForSelector(context.Context, string, time.Duration) error {
	return f.selectorErr
}

func (f *fakeBrowser) Close() error { return nil }

func (f *fakeBrowser) visits(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.navigations {
		if u == url {
			n++
		}
	}
	return n
}

type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) count(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

const (
	listURL = "https://example.test/list"
	queue   = "<html><body><h1>서비스 접속 대기 중입니다</h1></body></html>"
)

var testBuilder = notice.Builder{
	DetailTemplate: "https://example.test/view?id={id}",
	SearchTemplate: "https://example.test/search?q={query}",
	Strategy:       notice.StrategySearch,
}

func testConfig() Config {
	return Config{
		RequestDelay:       time.Millisecond,
		RetryDelay:         2 * time.Millisecond,
		ListBlockedDelay:   3 * time.Millisecond,
		DetailBlockedDelay: 4 * time.Millisecond,
		ListMaxAttempts:    5,
		DetailMaxAttempts:  3,
	}
}

func listMarkup(ids ...int) string {
	var b strings.Builder
	b.WriteString("<html><body><table>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<tr><td><a href="javascript:go_view(%d)">창업 지원 공고 %d</a></td></tr>`, id, id)
		b.WriteString(strings.Repeat("<!-- pad -->", 40))
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

func detailMarkup(body string) string {
	return `<html><body><div class="view-content">` + body + `</div></body></html>`
}

func longBody(label string) string {
	return "<p>" + label + " " + strings.Repeat("지원 내용 ", 30) + "</p>"
}

func newTestKStartup(b *fakeBrowser, s *recordingSleeper) *KStartup {
	settings := SourceSettings{ListURL: listURL, ListSelector: "table", Builder: testBuilder}
	return NewKStartup(testConfig(), settings, b, nil, nil).WithSleeper(s)
}

func TestKStartupFetchList(t *testing.T) {
	b := newFakeBrowser()
	b.script(listURL, fakePage{status: 200, html: listMarkup(101, 102, 101)})

	items, err := newTestKStartup(b, &recordingSleeper{}).FetchList(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "101", items[0].NoticeID)
	assert.Equal(t, "102", items[1].NoticeID)
	assert.Equal(t, notice.SourceKStartup, items[0].Source)
	assert.Contains(t, items[0].Title, "창업 지원 공고 101")
	assert.True(t, strings.HasPrefix(items[0].DetailURL, "https://example.test/search?q="))
}

func TestKStartupFetchListCapsItems(t *testing.T) {
	b := newFakeBrowser()
	b.script(listURL, fakePage{status: 200, html: listMarkup(1, 2, 3, 4)})

	items, err := newTestKStartup(b, &recordingSleeper{}).FetchList(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2", items[1].NoticeID)
}

func TestKStartupListInterstitialClears(t *testing.T) {
	b := newFakeBrowser()
	b.script(listURL,
		fakePage{status: 200, html: queue},
		fakePage{status: 200, html: queue},
		fakePage{status: 200, html: listMarkup(7)},
	)
	s := &recordingSleeper{}

	items, err := newTestKStartup(b, s).FetchList(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, b.visits(listURL))
	assert.Equal(t, 2, s.count(3*time.Millisecond))
}

func TestKStartupListBlocked(t *testing.T) {
	b := newFakeBrowser()
	b.script(listURL, fakePage{status: 200, html: queue})

	_, err := newTestKStartup(b, &recordingSleeper{}).FetchList(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlocked)
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 5, blocked.Attempts)
	assert.Equal(t, 5, b.visits(listURL))
}

func TestKStartupListNotRendered(t *testing.T) {
	b := newFakeBrowser()
	b.script(listURL, fakePage{status: 200, html: "<html><body>loading</body></html>"})
	b.selectorErr = context.DeadlineExceeded

	_, err := newTestKStartup(b, &recordingSleeper{}).FetchList(context.Background(), 0)
	assert.ErrorIs(t, err, ErrListNotRendered)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKStartupListErrorStatus(t *testing.T) {
	b := newFakeBrowser()
	b.script(listURL, fakePage{status: 500, html: "oops"})

	_, err := newTestKStartup(b, &recordingSleeper{}).FetchList(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.NotErrorIs(t, err, ErrBlocked)
}

func TestKStartupListNavigationFailure(t *testing.T) {
	b := newFakeBrowser()
	b.script(listURL, fakePage{err: errors.New("net::ERR_NAME_NOT_RESOLVED")})

	_, err := newTestKStartup(b, &recordingSleeper{}).FetchList(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open list page")
}

func TestFetchDetailExhaustsAttempts(t *testing.T) {
	b := newFakeBrowser()
	detail := testBuilder.DirectURL("55")
	b.script(detail, fakePage{err: context.DeadlineExceeded})
	s := &recordingSleeper{}

	body, ok := newTestKStartup(b, s).FetchDetail(context.Background(), notice.Item{NoticeID: "55"})
	assert.False(t, ok)
	assert.Empty(t, body)
	assert.Equal(t, 3, b.visits(detail))
	assert.Equal(t, 3, s.count(time.Millisecond), "request delay before every attempt")
	assert.Equal(t, 2, s.count(2*time.Millisecond), "no retry pause after the last attempt")
}

func TestFetchDetailInterstitialThenSuccess(t *testing.T) {
	b := newFakeBrowser()
	detail := testBuilder.DirectURL("9")
	b.script(detail,
		fakePage{status: 200, html: queue},
		fakePage{status: 200, html: detailMarkup(longBody("본문"))},
	)
	s := &recordingSleeper{}

	body, ok := newTestKStartup(b, s).FetchDetail(context.Background(), notice.Item{NoticeID: "9"})
	require.True(t, ok)
	assert.Contains(t, body, "본문")
	assert.NotContains(t, body, "view-content")
	assert.Equal(t, 1, s.count(4*time.Millisecond))
}

func TestFetchDetailErrorStatusCountsAsFailure(t *testing.T) {
	b := newFakeBrowser()
	detail := testBuilder.DirectURL("3")
	b.script(detail,
		fakePage{status: 404, html: "missing"},
		fakePage{status: 200, html: detailMarkup(longBody("ok"))},
	)

	body, ok := newTestKStartup(b, &recordingSleeper{}).FetchDetail(context.Background(), notice.Item{NoticeID: "3"})
	require.True(t, ok)
	assert.Contains(t, body, "ok")
	assert.Equal(t, 2, b.visits(detail))
}

func TestCrawlEmitsEveryItem(t *testing.T) {
	b := newFakeBrowser()
	b.script(listURL, fakePage{status: 200, html: listMarkup(1, 2, 3, 4)})
	b.script(testBuilder.DirectURL("1"), fakePage{status: 200, html: detailMarkup(longBody("one"))})
	b.script(testBuilder.DirectURL("2"), fakePage{err: errors.New("timeout")})
	b.script(testBuilder.DirectURL("3"), fakePage{status: 200, html: detailMarkup(longBody("three"))})
	b.script(testBuilder.DirectURL("4"), fakePage{status: 200, html: detailMarkup(longBody("four"))})

	opts := Options{
		MaxDetails: 2,
		Skip:       func(it notice.Item) bool { return it.NoticeID == "3" },
	}
	notices, err := newTestKStartup(b, &recordingSleeper{}).Crawl(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, notices, 4)

	assert.True(t, notices[0].BodyFetched)
	assert.Contains(t, notices[0].BodyHTML, "one")

	assert.False(t, notices[1].BodyFetched)
	assert.True(t, notices[1].Attempted)
	assert.Empty(t, notices[1].BodyHTML)

	assert.True(t, notices[2].Skipped)
	assert.Zero(t, b.visits(testBuilder.DirectURL("3")))

	assert.False(t, notices[3].BodyFetched, "detail cap reached")
	assert.False(t, notices[3].Attempted)
	assert.Zero(t, b.visits(testBuilder.DirectURL("4")))
}

func TestCrawlStopsOnCancel(t *testing.T) {
	b := newFakeBrowser()
	b.script(listURL, fakePage{status: 200, html: listMarkup(1, 2)})
	b.script(testBuilder.DirectURL("1"), fakePage{status: 200, html: detailMarkup(longBody("one"))})

	ctx, cancel := context.WithCancel(context.Background())
	src := newTestKStartup(b, &recordingSleeper{})
	items, err := src.FetchList(ctx, 0)
	require.NoError(t, err)
	cancel()

	_, err = crawlItems(ctx, src, items, Options{}, src.logger)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractBody(t *testing.T) {
	t.Run("view content wins", func(t *testing.T) {
		html := `<html><body><main>` + longBody("main") + `</main><div class="view-content">` + longBody("view") + `</div></body></html>`
		got := ExtractBody(html)
		assert.Contains(t, got, "view")
		assert.NotContains(t, got, "main ")
	})
	t.Run("short region is skipped", func(t *testing.T) {
		html := `<html><body><div class="view-content">짧음</div><article>` + longBody("article") + `</article></body></html>`
		assert.Contains(t, ExtractBody(html), "article")
	})
	t.Run("falls back to contents", func(t *testing.T) {
		html := `<html><body><div id="contents"><p>작은 본문</p></div></body></html>`
		assert.Contains(t, ExtractBody(html), "작은 본문")
	})
	t.Run("falls back to body", func(t *testing.T) {
		html := `<html><body><p>hello</p></body></html>`
		assert.Equal(t, "<p>hello</p>", ExtractBody(html))
	})
}

func TestBizinfoFetchList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, `<html><body><ul>
<li><a href="/sii/siia/selectSIIA200Detail.do?pblancId=PBLN_1">  2025 수출 바우처  </a></li>
<li><a href="/sii/siia/selectSIIA200Detail.do?pblancId=PBLN_2">스마트공장 구축 지원</a></li>
<li><a href="/sii/siia/selectSIIA200Detail.do?pblancId=PBLN_1">중복</a></li>
<li><a href="/sii/siia/selectSIIA200Detail.do">아이디 없음</a></li>
<li><a href="/other.do?pblancId=PBLN_9">무관</a></li>
</ul></body></html>`)
	}))
	defer srv.Close()

	settings := SourceSettings{
		ListURL: srv.URL + "/list.do",
		Builder: notice.Builder{
			DetailTemplate: srv.URL + "/sii/siia/selectSIIA200Detail.do?pblancId={id}",
			SearchTemplate: srv.URL + "/list.do?keyword={query}",
			Strategy:       notice.StrategyDirect,
		},
	}
	src := NewBizinfo(testConfig(), settings, "test-agent", newFakeBrowser(), nil, nil)

	items, err := src.FetchList(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "PBLN_1", items[0].NoticeID)
	assert.Equal(t, "2025 수출 바우처", items[0].Title)
	assert.Equal(t, notice.SourceBizinfo, items[0].Source)
	assert.Equal(t, srv.URL+"/sii/siia/selectSIIA200Detail.do?pblancId=PBLN_1", items[0].DetailURL)
	assert.Equal(t, "PBLN_2", items[1].NoticeID)
}

func TestBizinfoFetchListErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewBizinfo(testConfig(), SourceSettings{ListURL: srv.URL, Builder: testBuilder}, "", newFakeBrowser(), nil, nil)
	_, err := src.FetchList(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestBizinfoFetchDetailUsesBrowser(t *testing.T) {
	b := newFakeBrowser()
	detail := testBuilder.DirectURL("PBLN_5")
	b.script(detail, fakePage{status: 200, html: detailMarkup(longBody("bizinfo"))})

	src := NewBizinfo(testConfig(), SourceSettings{ListURL: listURL, Builder: testBuilder}, "", b, nil, nil).
		WithSleeper(&recordingSleeper{})
	body, ok := src.FetchDetail(context.Background(), notice.Item{NoticeID: "PBLN_5"})
	require.True(t, ok)
	assert.Contains(t, body, "bizinfo")
}
