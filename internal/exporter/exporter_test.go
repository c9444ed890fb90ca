package exporter

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/yuque_exporter/internal/automation"
	"github.com/italolelis/yuque_exporter/internal/automation/automationtest"
	"github.com/italolelis/yuque_exporter/internal/download"
	"github.com/italolelis/yuque_exporter/internal/markdown"
	"github.com/italolelis/yuque_exporter/internal/storage"
	"github.com/italolelis/yuque_exporter/internal/transfer"
	"github.com/italolelis/yuque_exporter/internal/vault"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const vaultRoot = "/vault"

var testSelectors = automation.Selectors{
	ExportMenuIcon:  "export-icon",
	MenuItem:        "menu-item",
	ExportMenuTexts: []string{"导出"},
	MarkdownOption:  "markdown-option",
	ConfirmButton:   "confirm",
	VideoCard:       "video-card",
	VideoSource:     "video-source",
	PluginMarker:    "data-plugin",
}

const sampleDoc = `# Weekly: notes/plan

Some intro text that is comfortably longer than fifty characters.

[此处为语雀卡片，点击链接查看](about:blank#v1)

More text.

[此处为语雀卡片，点击链接查看](about:blank#v2)
`

type fakeSource struct {
	mu     sync.Mutex
	fns    map[int]func(download.Descriptor)
	items  map[string]download.Descriptor
	nextID int
}

func newFakeSource() *fakeSource {
	return &fakeSource{fns: map[int]func(download.Descriptor){}, items: map[string]download.Descriptor{}}
}

func (s *fakeSource) OnCreated(fn func(download.Descriptor)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.fns[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *fakeSource) Search(_ context.Context, id string) (download.Descriptor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.items[id]

	return d, ok, nil
}

func (s *fakeSource) emit(d download.Descriptor) {
	s.mu.Lock()
	s.items[d.ID] = d
	fns := make([]func(download.Descriptor), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(d)
	}
}

type fakePages struct {
	page   automation.Page
	block  chan struct{}
	opened int
	closed int
	mu     sync.Mutex
}

func (p *fakePages) OpenPage(ctx context.Context, _ string) (automation.Page, func(), error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	p.mu.Lock()
	p.opened++
	p.mu.Unlock()

	return p.page, func() {
		p.mu.Lock()
		p.closed++
		p.mu.Unlock()
	}, nil
}

type fakeContent struct {
	content string
	err     error
	calls   int
}

func (f *fakeContent) Fetch(context.Context, download.Descriptor) (string, error) {
	f.calls++

	return f.content, f.err
}

type fakeDownloader map[string]error

func (f fakeDownloader) Download(_ context.Context, url string) (*transfer.Blob, error) {
	if err := f[url]; err != nil {
		return nil, err
	}

	return &transfer.Blob{Data: []byte("video:" + url), MimeType: "video/mp4"}, nil
}

type memCapabilities struct {
	mu   sync.Mutex
	recs map[string]storage.CapabilityRecord
}

func (m *memCapabilities) PutCapability(_ context.Context, rec storage.CapabilityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recs[rec.Key] = rec

	return nil
}

func (m *memCapabilities) GetCapability(_ context.Context, key string) (storage.CapabilityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.recs[key]
	if !ok {
		return storage.CapabilityRecord{}, storage.ErrNotFound
	}

	return rec, nil
}

func (m *memCapabilities) DeleteCapability(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.recs, key)

	return nil
}

type memHistory struct {
	mu       sync.Mutex
	started  []storage.ExportRecord
	finished []storage.ExportRecord
}

func (m *memHistory) StartExport(_ context.Context, rec storage.ExportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = append(m.started, rec)

	return nil
}

func (m *memHistory) FinishExport(_ context.Context, rec storage.ExportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.finished = append(m.finished, rec)

	return nil
}

func (m *memHistory) ListExports(context.Context, int) ([]storage.ExportRecord, error) {
	return nil, nil
}

type recordingSink struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *recordingSink) Status(_ context.Context, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, s)
}

func (r *recordingSink) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Status(nil), r.statuses...)
}

type harness struct {
	page     *automationtest.Page
	confirm  *automationtest.Node
	pages    *fakePages
	fs       afero.Fs
	store    *vault.Store
	src      *fakeSource
	content  *fakeContent
	assets   fakeDownloader
	history  *memHistory
	sink     *recordingSink
	bus      *download.Bus
	exporter *Exporter

	// download is what clicking the confirm button makes the browser download.
	download download.Descriptor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ctx := context.Background()

	h := &harness{
		page:    automationtest.NewPage(),
		fs:      afero.NewMemMapFs(),
		src:     newFakeSource(),
		content: &fakeContent{content: sampleDoc},
		assets:  fakeDownloader{},
		history: &memHistory{},
		sink:    &recordingSink{},
		download: download.Descriptor{
			ID:       "dl-1",
			Filename: "Weekly.md",
			URL:      "https://www.yuque.com/attachments/export/dl-1",
			State:    download.StateComplete,
		},
	}
	h.pages = &fakePages{page: h.page}

	// Export menu item, format option and confirm button appear in turn.
	h.confirm = h.page.El("button", testSelectors.ConfirmButton).OnClick(func() { h.src.emit(h.download) })
	option := h.page.El("div", testSelectors.MarkdownOption).OnClick(func() { h.page.Body.Add(h.confirm) })
	item := h.page.El("li", testSelectors.MenuItem).OnClick(func() { h.page.Body.Add(option) })
	item.Add(h.page.El("i", testSelectors.ExportMenuIcon))
	h.page.Body.Add(item)

	for _, id := range []string{"v1", "v2"} {
		card := h.page.El("ne-card", testSelectors.VideoCard).WithAttr("id", id)
		card.Add(h.page.El("source", testSelectors.VideoSource).WithAttr("src", "https://cdn.example.com/"+id+".mp4"))
		h.page.Body.Add(card)
	}

	require.NoError(t, h.fs.MkdirAll(vaultRoot, 0o755))

	h.store = vault.NewStore(
		&memCapabilities{recs: map[string]storage.CapabilityRecord{}},
		vault.FSOpener(h.fs, vault.StaticPrompter(true)),
	)
	require.NoError(t, h.store.Save(ctx, vault.NewFSHandle(h.fs, vaultRoot, vault.StaticPrompter(true))))

	h.bus = download.NewBus()
	bg := download.NewBackground(ctx, h.src, h.bus,
		download.WithPollInterval(5*time.Millisecond),
		download.WithTimeout(time.Second))
	t.Cleanup(bg.Close)

	h.exporter = New(
		Config{
			Selectors:      testSelectors,
			ElementTimeout: time.Second,
			Cooldown:       10 * time.Millisecond,
		},
		h.pages,
		h.store,
		download.NewCorrelator(h.bus, time.Second),
		h.content,
		h.assets,
		WithStatusSink(h.sink),
		WithHistory(h.history),
	)

	return h
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()

	require.Eventually(t, func() bool { return !h.exporter.Busy() }, time.Second, 5*time.Millisecond)
}

func (h *harness) files(t *testing.T) []string {
	t.Helper()

	var files []string

	err := afero.Walk(h.fs, vaultRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			files = append(files, path)
		}

		return nil
	})
	require.NoError(t, err)

	return files
}

func TestExport_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.exporter.Export(ctx, "https://www.yuque.com/team/book/doc")
	require.NoError(t, err)

	assert.Equal(t, "Weekly_ notes_plan.md", res.Filename)
	assert.Equal(t, 2, res.Videos)
	assert.Equal(t, 2, res.Replaced)
	assert.Zero(t, res.Unmatched)

	doc, err := afero.ReadFile(h.fs, vaultRoot+"/Weekly_ notes_plan.md")
	require.NoError(t, err)
	assert.Contains(t, string(doc), markdown.Embed("v1"))
	assert.Contains(t, string(doc), markdown.Embed("v2"))
	assert.NotContains(t, string(doc), markdown.Placeholder("v1"))

	video, err := afero.ReadFile(h.fs, vaultRoot+"/videos/v2.mp4")
	require.NoError(t, err)
	assert.Equal(t, "video:https://cdn.example.com/v2.mp4", string(video))

	assert.Equal(t, 1, h.confirm.Clicks())

	run := h.exporter.Current()
	require.NotNil(t, run)
	assert.Equal(t, StateDone, run.State())

	view := run.View()
	require.NotNil(t, view.Result)
	assert.Empty(t, view.Error)

	statuses := h.sink.all()
	require.NotEmpty(t, statuses)
	last := statuses[len(statuses)-1]
	assert.Equal(t, KindSuccess, last.Kind)
	assert.Equal(t, "导出完成！已保存到Obsidian仓库: Weekly_ notes_plan.md", last.Message)

	var messages []string
	for _, s := range statuses {
		messages = append(messages, s.Message)
	}

	assert.Contains(t, messages, "正在下载 2 个视频...")
	assert.Contains(t, messages, "正在下载视频 2/2...")

	h.pages.mu.Lock()
	assert.Equal(t, 1, h.pages.closed)
	h.pages.mu.Unlock()

	h.history.mu.Lock()
	require.Len(t, h.history.finished, 1)
	rec := h.history.finished[0]
	h.history.mu.Unlock()

	assert.Equal(t, storage.ExportDone, rec.State)
	assert.Equal(t, run.ID, rec.ID)
	assert.Equal(t, 2, rec.Assets)
	assert.Equal(t, 2, rec.Replaced)

	h.waitIdle(t)
}

func TestExport_SingleVideoWritesExactlyTwoFiles(t *testing.T) {
	h := newHarness(t)
	h.content.content = "# My Doc\n\n[此处为语雀卡片，点击链接查看](about:blank#v1)\n"
	h.page = automationtest.NewPage()
	h.pages.page = h.page

	confirm := h.page.El("button", testSelectors.ConfirmButton).OnClick(func() { h.src.emit(h.download) })
	option := h.page.El("div", testSelectors.MarkdownOption).OnClick(func() { h.page.Body.Add(confirm) })
	item := h.page.El("li", testSelectors.MenuItem).OnClick(func() { h.page.Body.Add(option) })
	item.Add(h.page.El("i", testSelectors.ExportMenuIcon))
	card := h.page.El("ne-card", testSelectors.VideoCard).WithAttr("id", "v1")
	card.Add(h.page.El("source", testSelectors.VideoSource).WithAttr("src", "https://x/v1.mp4"))
	h.page.Body.Add(item, card)

	res, err := h.exporter.Export(context.Background(), "https://www.yuque.com/doc")
	require.NoError(t, err)
	assert.Equal(t, "My Doc.md", res.Filename)

	assert.Equal(t, []string{vaultRoot + "/My Doc.md", vaultRoot + "/videos/v1.mp4"}, h.files(t))

	doc, err := afero.ReadFile(h.fs, vaultRoot+"/My Doc.md")
	require.NoError(t, err)
	assert.Equal(t, "# My Doc\n\n![video](videos/v1.mp4)\n", string(doc))

	h.waitIdle(t)
}

func TestExport_WithoutVideos(t *testing.T) {
	h := newHarness(t)
	h.page = automationtest.NewPage()
	h.pages.page = h.page

	confirm := h.page.El("button", testSelectors.ConfirmButton).OnClick(func() { h.src.emit(h.download) })
	option := h.page.El("div", testSelectors.MarkdownOption).OnClick(func() { h.page.Body.Add(confirm) })
	item := h.page.El("li", testSelectors.MenuItem).OnClick(func() { h.page.Body.Add(option) })
	item.Add(h.page.El("i", testSelectors.ExportMenuIcon))
	h.page.Body.Add(item)

	res, err := h.exporter.Export(context.Background(), "https://www.yuque.com/doc")
	require.NoError(t, err)
	assert.Zero(t, res.Videos)
	assert.Equal(t, []string{vaultRoot + "/Weekly_ notes_plan.md"}, h.files(t))

	h.waitIdle(t)
}

func TestExport_RejectsConcurrentRun(t *testing.T) {
	h := newHarness(t)
	h.pages.block = make(chan struct{})
	h.exporter.cfg.Cooldown = 200 * time.Millisecond
	ctx := context.Background()

	run, err := h.exporter.Start(ctx, "https://www.yuque.com/doc")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return run.State() == StateTriggeringExport }, time.Second, time.Millisecond)

	second, err := h.exporter.Start(ctx, "https://www.yuque.com/other")
	require.ErrorIs(t, err, ErrAlreadyInProgress)
	assert.Nil(t, second)
	assert.Same(t, run, h.exporter.Current())
	assert.Equal(t, StateTriggeringExport, run.State())

	statuses := h.sink.all()
	assert.Equal(t, KindBusy, statuses[len(statuses)-1].Kind)
	assert.Equal(t, "导出进行中，请稍候...", statuses[len(statuses)-1].Message)

	close(h.pages.block)

	_, err = run.Wait(ctx)
	require.NoError(t, err)

	// The guard holds through the cooldown, then releases.
	assert.True(t, h.exporter.Busy())
	h.waitIdle(t)

	_, err = h.exporter.Export(ctx, "https://www.yuque.com/again")
	require.NoError(t, err)

	h.waitIdle(t)
}

func TestExport_ZipIsRejectedWithoutWrites(t *testing.T) {
	h := newHarness(t)
	h.download.Filename = "book.zip"

	_, err := h.exporter.Export(context.Background(), "https://www.yuque.com/doc")
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateFetchingContent, stageErr.State)

	var formatErr *FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.NotEmpty(t, formatErr.Guidance)

	assert.Zero(t, h.content.calls)
	assert.Empty(t, h.files(t))

	statuses := h.sink.all()
	last := statuses[len(statuses)-1]
	assert.Equal(t, KindError, last.Kind)
	assert.Contains(t, last.Message, "导出失败: ")

	h.history.mu.Lock()
	require.Len(t, h.history.finished, 1)
	assert.Equal(t, storage.ExportFailed, h.history.finished[0].State)
	assert.Equal(t, StateFetchingContent.String(), h.history.finished[0].Stage)
	h.history.mu.Unlock()

	h.waitIdle(t)
}

func TestExport_VaultNotConfigured(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Clear(context.Background()))

	_, err := h.exporter.Export(context.Background(), "https://www.yuque.com/doc")
	require.ErrorIs(t, err, vault.ErrNotConfigured)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateValidatingVault, stageErr.State)
	assert.Zero(t, h.pages.opened)

	statuses := h.sink.all()
	require.NotEmpty(t, statuses)
	last := statuses[len(statuses)-1]
	assert.Equal(t, KindError, last.Kind)
	assert.Equal(t, "导出失败: "+stageErr.Err.Error(), last.Message)
	assert.NotContains(t, last.Message, StateValidatingVault.String())

	h.history.mu.Lock()
	require.Len(t, h.history.finished, 1)
	assert.Equal(t, StateValidatingVault.String(), h.history.finished[0].Stage)
	h.history.mu.Unlock()

	h.waitIdle(t)
}

func TestExport_InvalidContent(t *testing.T) {
	h := newHarness(t)
	h.content.content = "<!DOCTYPE html><html><body>login required, please sign in to continue</body></html>"

	_, err := h.exporter.Export(context.Background(), "https://www.yuque.com/doc")
	require.ErrorIs(t, err, ErrContentIsMarkup)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateValidatingContent, stageErr.State)
	assert.Empty(t, h.files(t))

	h.waitIdle(t)
}

func TestExport_AssetFailureKeepsEarlierFiles(t *testing.T) {
	h := newHarness(t)
	h.assets["https://cdn.example.com/v2.mp4"] = &transfer.FetchError{URL: "https://cdn.example.com/v2.mp4", Reason: "status 404"}

	_, err := h.exporter.Export(context.Background(), "https://www.yuque.com/doc")
	require.ErrorIs(t, err, transfer.ErrFetchFailed)
	assert.Contains(t, err.Error(), "videos/v2.mp4")

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StatePersistingAssets, stageErr.State)

	assert.ElementsMatch(t, []string{
		vaultRoot + "/Weekly_ notes_plan.md",
		vaultRoot + "/videos/v1.mp4",
	}, h.files(t))

	h.waitIdle(t)
}

func TestExport_DownloadTimeout(t *testing.T) {
	h := newHarness(t)
	h.confirm.OnClick(nil)
	h.exporter.monitor = download.NewCorrelator(h.bus, 20*time.Millisecond)

	_, err := h.exporter.Export(context.Background(), "https://www.yuque.com/doc")
	require.ErrorIs(t, err, download.ErrDownloadTimeout)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateAwaitingDownload, stageErr.State)

	h.waitIdle(t)
}

func TestExport_CancelledContext(t *testing.T) {
	h := newHarness(t)
	h.pages.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())

	run, err := h.exporter.Start(ctx, "https://www.yuque.com/doc")
	require.NoError(t, err)

	cancel()

	_, err = run.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, run.State())

	h.waitIdle(t)
}

func TestValidateContent(t *testing.T) {
	long := "# Title\n\nThis paragraph is long enough to count as a real markdown export."

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "markdown", content: long},
		{name: "empty", content: "", wantErr: ErrContentTooShort},
		{name: "too short", content: "# hi", wantErr: ErrContentTooShort},
		{name: "doctype", content: "  <!DOCTYPE html>" + long, wantErr: ErrContentIsMarkup},
		{name: "html tag uppercase", content: "\n<HTML><body>" + long, wantErr: ErrContentIsMarkup},
		{name: "html later in text is fine", content: long + "<html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContent(tt.content)
			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)

			var contentErr *ContentError
			require.ErrorAs(t, err, &contentErr)
			assert.Equal(t, len(tt.content), contentErr.Length)
			assert.LessOrEqual(t, len([]rune(contentErr.Preview)), previewLength)
		})
	}
}

func TestCheckFormat(t *testing.T) {
	tests := []struct {
		filename string
		wantErr  bool
	}{
		{"doc.md", false},
		{"DOC.MARKDOWN", false},
		{"book.zip", true},
		{"doc.pdf", true},
		{"noext", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			err := checkFormat(download.Descriptor{Filename: tt.filename})
			if !tt.wantErr {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, ErrUnsupportedFormat)
			assert.Contains(t, err.Error(), tt.filename)
		})
	}
}

func TestStageError(t *testing.T) {
	err := &StageError{State: StateAwaitingDownload, Err: download.ErrDownloadTimeout}

	assert.True(t, errors.Is(err, download.ErrDownloadTimeout))
	assert.Equal(t, "awaiting_download: download timeout", err.Error())
}
