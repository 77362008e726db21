package usecase

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap/zaptest"

	"signflow/internal/config"
	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/infrastructure/metrics"
	"signflow/internal/infrastructure/notification"
	"signflow/internal/infrastructure/pdf"
	"signflow/internal/infrastructure/records"
	"signflow/internal/infrastructure/storage"
)

// fakeRepo is an in-memory aggregate store whose conditional updates are atomic.
type fakeRepo struct {
	mu          sync.Mutex
	requests    map[string]*entity.SignatureRequest
	transitions map[entity.RequestStatus]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		requests:    make(map[string]*entity.SignatureRequest),
		transitions: make(map[entity.RequestStatus]int),
	}
}

func cloneRequest(req *entity.SignatureRequest) *entity.SignatureRequest {
	out := *req
	out.Signers = make([]entity.Signer, len(req.Signers))
	for i, s := range req.Signers {
		s.Fields = append([]entity.SignatureField{}, s.Fields...)
		entity.SortFields(s.Fields)
		out.Signers[i] = s
	}
	sort.SliceStable(out.Signers, func(i, j int) bool { return out.Signers[i].Position < out.Signers[j].Position })
	return &out
}

func (r *fakeRepo) signer(id string) (*entity.SignatureRequest, *entity.Signer) {
	for _, req := range r.requests {
		if s := req.FindSigner(id); s != nil {
			return req, s
		}
	}
	return nil, nil
}

func (r *fakeRepo) Create(_ context.Context, req *entity.SignatureRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id string) (*entity.SignatureRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	return cloneRequest(req), nil
}

func (r *fakeRepo) List(_ context.Context, baseID string, limit, offset int) ([]entity.SignatureRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.SignatureRequest
	for _, req := range r.requests {
		if req.BaseID == baseID {
			out = append(out, *cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) FindSignerByToken(_ context.Context, token string) (*entity.Signer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		for _, s := range req.Signers {
			if s.AccessToken == token {
				return &s, nil
			}
		}
	}
	return nil, nil
}

func (r *fakeRepo) AddSigners(_ context.Context, requestID string, signers []entity.Signer) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok || req.Status != entity.RequestDraft {
		return false, nil
	}
	for _, s := range signers {
		if req.FindSignerByEmail(s.Email) != nil {
			return false, &apperror.DuplicateSignerError{Email: s.Email}
		}
	}
	req.Signers = append(req.Signers, signers...)
	return true, nil
}

func (r *fakeRepo) AddFields(_ context.Context, requestID string, fields []entity.SignatureField) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok || req.Status != entity.RequestDraft {
		return false, nil
	}
	for _, f := range fields {
		s := req.FindSigner(f.SignerID)
		if s == nil {
			return false, errors.New("foreign key violation")
		}
		s.Fields = append(s.Fields, f)
	}
	return true, nil
}

func (r *fakeRepo) TransitionStatus(_ context.Context, id string, from []entity.RequestStatus, to entity.RequestStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if req.Status == f {
			req.Status = to
			req.UpdatedAt = at
			if to == entity.RequestCompleted {
				req.CompletedAt = &at
			}
			r.transitions[to]++
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) UpdateSignerStatus(_ context.Context, signerID string, from []entity.SignerStatus, to entity.SignerStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, s := r.signer(signerID)
	if s == nil {
		return false, nil
	}
	for _, f := range from {
		if s.Status == f {
			s.Status = to
			if to == entity.SignerViewed {
				s.ViewedAt = &at
			}
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) MarkSignerSigned(_ context.Context, signerID, ref string, values map[string]string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, s := r.signer(signerID)
	if s == nil || s.Status.IsResolved() || !acceptsSigners(req, at) {
		return false, nil
	}
	s.Status = entity.SignerSigned
	s.SignedDocumentRef = ref
	s.SignedAt = &at
	for i := range s.Fields {
		if v, ok := values[s.Fields[i].ID]; ok {
			s.Fields[i].Value = v
		}
	}
	return true, nil
}

func (r *fakeRepo) MarkSignerDeclined(_ context.Context, signerID, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, s := r.signer(signerID)
	if s == nil || s.Status.IsResolved() || !acceptsSigners(req, at) {
		return false, nil
	}
	s.Status = entity.SignerDeclined
	s.DeclineReason = reason
	s.DeclinedAt = &at
	return true, nil
}

func acceptsSigners(req *entity.SignatureRequest, at time.Time) bool {
	return req.Status.IsOpen() && !req.IsPastDeadline(at)
}

func (r *fakeRepo) SetCompletionArtifacts(_ context.Context, id, documentRef, certificateRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok || req.Status != entity.RequestCompleted {
		return &apperror.RequestClosedError{RequestID: id, Status: "not completed"}
	}
	req.DocumentRef = documentRef
	req.CertificateRef = certificateRef
	return nil
}

func (r *fakeRepo) ListExpirable(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, req := range r.requests {
		if req.Status.IsOpen() && req.IsPastDeadline(now) {
			ids = append(ids, req.ID)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[id]; !ok {
		return false, nil
	}
	delete(r.requests, id)
	return true, nil
}

// mutate edits a stored request in place.
func (r *fakeRepo) mutate(id string, fn func(req *entity.SignatureRequest)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.requests[id])
}

type fakeTokens struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{entries: make(map[string]string)}
}

func (c *fakeTokens) Get(_ context.Context, token string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.entries[token]
	return ref, ok, nil
}

func (c *fakeTokens) Set(_ context.Context, token, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = ref
	return nil
}

func (c *fakeTokens) Delete(_ context.Context, tokens ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tokens {
		delete(c.entries, t)
	}
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []entity.Event
}

func (p *fakeEvents) Publish(_ context.Context, eventType entity.EventType, req *entity.SignatureRequest, signerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, entity.Event{Type: eventType, BaseID: req.BaseID, RequestID: req.ID, SignerID: signerID})
}

func (p *fakeEvents) count(eventType entity.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *fakeNotifier) Notify(_ context.Context, messages []notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, messages...)
	return nil
}

func (n *fakeNotifier) recipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	for i, m := range n.messages {
		out[i] = m.To
	}
	return out
}

type fakeRecords struct {
	mu      sync.Mutex
	updates []records.FieldUpdate
	err     error
}

func (c *fakeRecords) UpdateField(_ context.Context, update records.FieldUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.updates = append(c.updates, update)
	return nil
}

type fakeVersionRepo struct {
	mu       sync.Mutex
	versions []entity.SignatureVersion
}

func (r *fakeVersionRepo) Create(_ context.Context, v *entity.SignatureVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := 0
	for i := range r.versions {
		if r.versions[i].BaseID != v.BaseID || r.versions[i].DocumentID != v.DocumentID {
			continue
		}
		r.versions[i].IsCurrent = false
		if r.versions[i].Version > latest {
			latest = r.versions[i].Version
		}
	}
	v.Version = latest + 1
	v.IsCurrent = true
	r.versions = append(r.versions, *v)
	return nil
}

func (r *fakeVersionRepo) ListByDocument(_ context.Context, baseID, documentID string) ([]entity.SignatureVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []entity.SignatureVersion{}
	for _, v := range r.versions {
		if v.BaseID == baseID && v.DocumentID == documentID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (r *fakeVersionRepo) FindCurrent(_ context.Context, baseID, documentID string) (*entity.SignatureVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions {
		if v.BaseID == baseID && v.DocumentID == documentID && v.IsCurrent {
			return &v, nil
		}
	}
	return nil, nil
}

type countingMerger struct {
	pdf.Merger
	mu    sync.Mutex
	calls int
}

func (m *countingMerger) Merge(ctx context.Context, docs [][]byte) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.Merger.Merge(ctx, docs)
}

func (m *countingMerger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type countingCertificates struct {
	pdf.CertificateRenderer
	mu       sync.Mutex
	calls    int
	failures int // number of leading calls that fail
}

func (c *countingCertificates) Render(cert *entity.CompletionCertificate) ([]byte, error) {
	c.mu.Lock()
	c.calls++
	fail := c.calls <= c.failures
	c.mu.Unlock()
	if fail {
		return nil, errors.New("renderer unavailable")
	}
	return c.CertificateRenderer.Render(cert)
}

func (c *countingCertificates) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// hookedCompositor runs a one-shot callback inside Compose.
type hookedCompositor struct {
	pdf.Compositor
	mu     sync.Mutex
	during func()
}

func (c *hookedCompositor) Compose(ctx context.Context, source []byte, fields []entity.SignatureField, values map[string]string) (*pdf.Composition, error) {
	c.mu.Lock()
	hook := c.during
	c.during = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return c.Compositor.Compose(ctx, source, fields, values)
}

// interrupt runs fn once, while the next submission is composing.
func (c *hookedCompositor) interrupt(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.during = fn
}

type harness struct {
	cfg        *config.Config
	repo       *fakeRepo
	tokens     *fakeTokens
	store      storage.BlobStore
	events     *fakeEvents
	notifier   *fakeNotifier
	records    *fakeRecords
	versions   *fakeVersionRepo
	merger     *countingMerger
	certs      *countingCertificates
	compositor *hookedCompositor
	requests   RequestUsecase
	signers    SignerUsecase
	completion CompletionUsecase

	clockMu sync.Mutex
	clock   time.Time
}

func newHarness(t *testing.T, enforceOrder bool) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mc := metrics.NewCollector()

	cfg := &config.Config{}
	cfg.App.BaseURL = "https://sign.example.com/"
	cfg.Signing.EnforceSignOrder = enforceOrder
	cfg.Storage = config.StorageConfig{
		BasePath:          t.TempDir(),
		SourceFolder:      "source",
		SignedFolder:      "signed",
		FinalFolder:       "final",
		CertificateFolder: "certificates",
		VersionFolder:     "versions",
		Timeout:           5 * time.Second,
	}

	store, err := storage.NewBlobStore(cfg, mc, logger)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	opts := pdf.Options{
		DefaultFontSize: 12,
		LineGap:         2,
		Inset:           2,
		BaselineOffset:  4,
		DateLayout:      "2006-01-02",
		Now:             func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}

	h := &harness{
		cfg:        cfg,
		repo:       newFakeRepo(),
		tokens:     newFakeTokens(),
		store:      store,
		events:     &fakeEvents{},
		notifier:   &fakeNotifier{},
		records:    &fakeRecords{},
		versions:   &fakeVersionRepo{},
		merger:     &countingMerger{Merger: pdf.NewMerger(opts)},
		certs:      &countingCertificates{CertificateRenderer: pdf.NewCertificateRenderer(opts)},
		compositor: &hookedCompositor{Compositor: pdf.NewCompositor(pdf.NewFieldRenderer(opts), opts)},
		clock:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	completion := NewCompletionUsecase(cfg, h.repo, h.tokens, store, h.merger, h.certs,
		NewVersionUsecase(h.versions, store, logger), NewStatusPropagator(h.records, logger),
		h.events, h.notifier, mc, logger)
	requests := NewRequestUsecase(cfg, h.repo, h.tokens, store, h.notifier, mc, logger)
	signers := NewSignerUsecase(cfg, h.repo, h.tokens, store, h.compositor, completion, h.events, mc, logger)

	completion.(*completionUsecase).now = h.now
	requests.(*requestUsecase).now = h.now
	signers.(*signerUsecase).now = h.now

	h.completion = completion
	h.requests = requests
	h.signers = signers
	return h
}

func (h *harness) now() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	h.clock = h.clock.Add(d)
}

var tenant = entity.TenantAuth("base_1", "user_1")

// sourcePDF builds an uncompressed two-page document.
func sourcePDF(t *testing.T) []byte {
	t.Helper()
	doc := gofpdf.New("P", "pt", "A4", "")
	doc.SetCompression(false)
	doc.SetFont("Helvetica", "", 12)
	for i := 0; i < 2; i++ {
		doc.AddPage()
		doc.Text(40, 40, "contract")
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("build source: %v", err)
	}
	return buf.Bytes()
}

func (h *harness) input(t *testing.T, signers []entity.SignerInput, fields []entity.FieldInput) *entity.CreateRequestInput {
	t.Helper()
	return &entity.CreateRequestInput{
		Title:                 "Service agreement",
		SourceDocumentContent: base64.StdEncoding.EncodeToString(sourcePDF(t)),
		Signers:               signers,
		Fields:                fields,
	}
}

func (h *harness) createAndSend(t *testing.T, input *entity.CreateRequestInput) *entity.CreatedRequest {
	t.Helper()
	ctx := context.Background()
	created, err := h.requests.Create(ctx, tenant, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.requests.Dispatch(ctx, tenant, created.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return created
}

func (h *harness) get(t *testing.T, id string) *entity.SignatureRequest {
	t.Helper()
	req, err := h.requests.Get(context.Background(), tenant, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return req
}

func (h *harness) submit(t *testing.T, token string, sub *entity.Submission) (*entity.SubmitResult, error) {
	t.Helper()
	ctx := context.Background()
	signer, err := h.signers.ResolveByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return h.signers.Submit(ctx, entity.SignerAuth(signer.ID), signer.RequestID, signer.ID, sub)
}

func textInput(email, id string, required bool) entity.FieldInput {
	return entity.FieldInput{
		SignatureField: entity.SignatureField{
			ID: id, Page: 1, X: 100, Y: 600, Width: 200, Height: 20,
			Kind: entity.TextKind{}, Label: id, Required: required,
		},
		SignerEmail: email,
	}
}

func signatureInput(email, id string) entity.FieldInput {
	return entity.FieldInput{
		SignatureField: entity.SignatureField{
			ID: id, Page: 1, X: 100, Y: 300, Width: 150, Height: 50,
			Kind: entity.SignatureKind{}, Label: id, Required: true,
		},
		SignerEmail: email,
	}
}

func values(kv ...string) *entity.Submission {
	sub := &entity.Submission{FieldValues: map[string]string{}, SignatureData: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		sub.FieldValues[kv[i]] = kv[i+1]
	}
	return sub
}
