package usecase

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/infrastructure/pdf"
	"signflow/internal/infrastructure/storage"
)

var pageObject = regexp.MustCompile(`/Type /Page\b`)

func signedBlobs(t *testing.T, h *harness) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.cfg.Storage.BasePath, h.cfg.Storage.SignedFolder))
	if err != nil {
		t.Fatalf("read signed folder: %v", err)
	}
	return len(entries)
}

func twoParallelSigners(t *testing.T, h *harness, mutate func(*entity.CreateRequestInput)) *entity.CreatedRequest {
	t.Helper()
	in := h.input(t,
		[]entity.SignerInput{{Email: "a@example.com"}, {Email: "b@example.com"}},
		[]entity.FieldInput{textInput("a@example.com", "fa", true), textInput("b@example.com", "fb", true)},
	)
	if mutate != nil {
		mutate(in)
	}
	return h.createAndSend(t, in)
}

func TestTwoParallelSignersComplete(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, func(in *entity.CreateRequestInput) {
		in.DocumentID = "doc_1"
		in.LinkedRecordID = "rec_1"
		in.StatusFieldID = "fld_status"
		in.CompleteValue = "Signed"
	})
	tokenA := created.IssuedSigners[0].AccessToken
	tokenB := created.IssuedSigners[1].AccessToken

	res, err := h.submit(t, tokenA, values("fa", "Ann"))
	if err != nil {
		t.Fatalf("submit A: %v", err)
	}
	if res.RequestStatus != entity.RequestInProgress || !strings.HasPrefix(res.SignedDocumentPath, "signed/") {
		t.Fatalf("unexpected result after A: %+v", res)
	}
	req := h.get(t, created.ID)
	if req.Signers[0].Status != entity.SignerSigned || req.Status != entity.RequestInProgress {
		t.Fatalf("unexpected state after A: request=%s signer=%s", req.Status, req.Signers[0].Status)
	}

	res, err = h.submit(t, tokenB, values("fb", "Bob"))
	if err != nil {
		t.Fatalf("submit B: %v", err)
	}
	if res.RequestStatus != entity.RequestCompleted {
		t.Fatalf("expected completed, got %s", res.RequestStatus)
	}

	req = h.get(t, created.ID)
	if req.Status != entity.RequestCompleted || req.CompletedAt == nil {
		t.Fatalf("expected completed request, got %+v", req)
	}
	if !strings.HasPrefix(req.DocumentRef, "final/") || req.CertificateRef == "" {
		t.Fatalf("expected merged document and certificate, got %q %q", req.DocumentRef, req.CertificateRef)
	}
	if h.merger.count() != 1 || h.certs.count() != 1 {
		t.Fatalf("expected one merge and one certificate, got %d %d", h.merger.count(), h.certs.count())
	}
	if n := h.events.count(entity.EventRequestCompleted); n != 1 {
		t.Fatalf("expected one request.completed event, got %d", n)
	}
	if n := h.events.count(entity.EventSignerSigned); n != 2 {
		t.Fatalf("expected two signer.signed events, got %d", n)
	}
	if len(h.records.updates) != 1 || h.records.updates[0].Value != "Signed" || h.records.updates[0].RecordID != "rec_1" {
		t.Fatalf("unexpected propagation %+v", h.records.updates)
	}
	versions, _ := h.versions.ListByDocument(context.Background(), "base_1", "doc_1")
	if len(versions) != 1 || versions[0].StorageRef != req.DocumentRef || !versions[0].IsCurrent {
		t.Fatalf("expected signed version, got %+v", versions)
	}

	merged, err := h.store.Read(context.Background(), req.DocumentRef)
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	if got := len(pageObject.FindAll(merged, -1)); got != 4 {
		t.Fatalf("expected both two-page copies in the final document, got %d pages", got)
	}
}

func TestSingleSignerDocumentIsFinalAsIs(t *testing.T) {
	h := newHarness(t, false)
	created := h.createAndSend(t, h.input(t,
		[]entity.SignerInput{{Email: "a@example.com"}, {Email: "v@example.com", Role: entity.RoleViewer}},
		[]entity.FieldInput{textInput("a@example.com", "fa", true)},
	))

	res, err := h.submit(t, created.IssuedSigners[0].AccessToken, values("fa", "Ann"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	req := h.get(t, created.ID)
	if req.Status != entity.RequestCompleted || req.DocumentRef != res.SignedDocumentPath {
		t.Fatalf("expected the signed copy as final document, got %q vs %q", req.DocumentRef, res.SignedDocumentPath)
	}
	if h.merger.count() != 0 {
		t.Fatalf("single copy must not be merged")
	}
}

func TestConcurrentEvaluateCompletionRunsSideEffectsOnce(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, nil)
	ctx := context.Background()

	source, err := h.store.Read(ctx, created.SourceDocumentRef)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	for _, s := range created.IssuedSigners {
		ref, err := h.store.Write(ctx, storage.AreaSigned, "pdf", source)
		if err != nil {
			t.Fatalf("write copy: %v", err)
		}
		if ok, _ := h.repo.MarkSignerSigned(ctx, s.ID, ref, nil, h.now()); !ok {
			t.Fatalf("mark signed failed")
		}
	}

	const callers = 16
	var wg sync.WaitGroup
	statuses := make([]entity.RequestStatus, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], errs[i] = h.completion.EvaluateCompletion(ctx, tenant, created.ID)
		}(i)
	}
	wg.Wait()

	for i := range statuses {
		if errs[i] != nil || statuses[i] != entity.RequestCompleted {
			t.Fatalf("caller %d: status=%s err=%v", i, statuses[i], errs[i])
		}
	}
	if h.merger.count() != 1 || h.certs.count() != 1 {
		t.Fatalf("expected exactly one merge and certificate, got %d %d", h.merger.count(), h.certs.count())
	}
	if n := h.events.count(entity.EventRequestCompleted); n != 1 {
		t.Fatalf("expected one request.completed event, got %d", n)
	}
	if h.repo.transitions[entity.RequestCompleted] != 1 {
		t.Fatalf("expected a single completed transition")
	}
}

func TestSubmitMissingRequiredFieldWritesNothing(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, nil)

	_, err := h.submit(t, created.IssuedSigners[0].AccessToken, values())
	var missing *apperror.MissingRequiredFieldError
	if !errors.As(err, &missing) || missing.FieldID != "fa" {
		t.Fatalf("expected missing field fa, got %v", err)
	}
	if n := signedBlobs(t, h); n != 0 {
		t.Fatalf("no document may be written, found %d", n)
	}
	if s := h.get(t, created.ID).Signers[0]; s.Status != entity.SignerSent {
		t.Fatalf("signer status changed to %s", s.Status)
	}
}

func TestSubmitTwiceFailsAlreadySigned(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, nil)
	token := created.IssuedSigners[0].AccessToken

	if _, err := h.submit(t, token, values("fa", "Ann")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := h.submit(t, token, values("fa", "Ann again"))
	var already *apperror.AlreadySignedError
	if !errors.As(err, &already) {
		t.Fatalf("expected already signed, got %v", err)
	}
	if n := signedBlobs(t, h); n != 1 {
		t.Fatalf("expected a single signed copy, found %d", n)
	}
}

func TestSubmitAfterDeadlineExpiresRequest(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, func(in *entity.CreateRequestInput) {
		deadline := h.now().Add(time.Hour)
		in.ExpiresAt = &deadline
	})
	h.advance(2 * time.Hour)

	_, err := h.submit(t, created.IssuedSigners[0].AccessToken, values("fa", "Ann"))
	var expired *apperror.RequestExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("expected request expired, got %v", err)
	}
	if req := h.get(t, created.ID); req.Status != entity.RequestExpired {
		t.Fatalf("expected expired, got %s", req.Status)
	}
	if n := h.events.count(entity.EventRequestExpired); n != 1 {
		t.Fatalf("expected one request.expired event, got %d", n)
	}
	if _, err := h.submit(t, created.IssuedSigners[1].AccessToken, values("fb", "Bob")); !errors.As(err, &expired) {
		t.Fatalf("expected request expired for later signer, got %v", err)
	}
}

func TestExpiryDuringComposeRejectsSubmission(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, func(in *entity.CreateRequestInput) {
		deadline := h.now().Add(time.Hour)
		in.ExpiresAt = &deadline
	})
	ctx := context.Background()
	h.compositor.interrupt(func() {
		h.advance(2 * time.Hour)
		if n, err := h.completion.ExpireOverdue(ctx, 10); err != nil || n != 1 {
			t.Errorf("sweep: %d %v", n, err)
		}
	})

	res, err := h.submit(t, created.IssuedSigners[0].AccessToken, values("fa", "Ann"))
	var expired *apperror.RequestExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("expected request expired, got %+v %v", res, err)
	}
	req := h.get(t, created.ID)
	if req.Status != entity.RequestExpired {
		t.Fatalf("expected expired, got %s", req.Status)
	}
	if a := req.FindSigner(created.IssuedSigners[0].ID); a.Status == entity.SignerSigned || a.SignedDocumentRef != "" {
		t.Fatalf("signer must not be signed on an expired request: %+v", a)
	}
	if n := h.events.count(entity.EventSignerSigned); n != 0 {
		t.Fatalf("expected no signer.signed event, got %d", n)
	}
}

func TestDeclineDuringComposeRejectsSubmission(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, nil)
	a, b := created.IssuedSigners[0], created.IssuedSigners[1]
	ctx := context.Background()
	h.compositor.interrupt(func() {
		if _, err := h.signers.Decline(ctx, entity.SignerAuth(b.ID), created.ID, b.ID, "no"); err != nil {
			t.Errorf("decline: %v", err)
		}
	})

	_, err := h.submit(t, a.AccessToken, values("fa", "Ann"))
	var closed *apperror.RequestClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("expected closed request, got %v", err)
	}
	req := h.get(t, created.ID)
	if req.Status != entity.RequestDeclined {
		t.Fatalf("expected declined, got %s", req.Status)
	}
	if s := req.FindSigner(a.ID); s.Status == entity.SignerSigned {
		t.Fatalf("signer must not be signed on a declined request")
	}
}

func TestUndecodableSignatureRendersPlaceholder(t *testing.T) {
	h := newHarness(t, false)
	created := h.createAndSend(t, h.input(t,
		[]entity.SignerInput{{Email: "a@example.com"}},
		[]entity.FieldInput{signatureInput("a@example.com", "sig")},
	))

	sub := values()
	sub.SignatureData["sig"] = "data:image/png;base64,bm90IGFuIGltYWdl"
	res, err := h.submit(t, created.IssuedSigners[0].AccessToken, sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	doc, err := h.store.Read(context.Background(), res.SignedDocumentPath)
	if err != nil {
		t.Fatalf("read signed copy: %v", err)
	}
	if !bytes.Contains(doc, []byte(pdf.PlaceholderText)) {
		t.Fatalf("expected placeholder text in signed copy")
	}
	if s := h.get(t, created.ID).Signers[0]; s.Status != entity.SignerSigned {
		t.Fatalf("signer should still be signed, got %s", s.Status)
	}
}

func TestDeclineShortCircuitsRequest(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, func(in *entity.CreateRequestInput) {
		in.LinkedRecordID = "rec_1"
		in.StatusFieldID = "fld_status"
		in.DeclineValue = "Declined"
	})
	ctx := context.Background()
	a := created.IssuedSigners[0]

	status, err := h.signers.Decline(ctx, entity.SignerAuth(a.ID), created.ID, a.ID, "wrong amount")
	if err != nil || status != entity.RequestDeclined {
		t.Fatalf("decline: %s %v", status, err)
	}
	if len(h.records.updates) != 1 || h.records.updates[0].Value != "Declined" {
		t.Fatalf("expected decline propagation, got %+v", h.records.updates)
	}
	if n := h.events.count(entity.EventRequestDeclined); n != 1 {
		t.Fatalf("expected one request.declined event, got %d", n)
	}

	_, err = h.submit(t, created.IssuedSigners[1].AccessToken, values("fb", "Bob"))
	var closed *apperror.RequestClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("expected closed request, got %v", err)
	}
	if req := h.get(t, created.ID); req.Status != entity.RequestDeclined {
		t.Fatalf("declined must be terminal, got %s", req.Status)
	}
}

func TestSignerCannotActForAnotherSigner(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, nil)
	a, b := created.IssuedSigners[0], created.IssuedSigners[1]

	_, err := h.signers.Submit(context.Background(), entity.SignerAuth(a.ID), created.ID, b.ID, values("fb", "forged"))
	var nf *apperror.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionMarksViewed(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, nil)
	token := created.IssuedSigners[0].AccessToken

	session, err := h.signers.Session(context.Background(), token)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if session.Signer.Status != entity.SignerViewed || session.AlreadySigned {
		t.Fatalf("unexpected session %+v", session)
	}
	if len(session.Fields) != 1 || session.Fields[0].ID != "fa" {
		t.Fatalf("expected own fields only, got %+v", session.Fields)
	}
	if session.DocumentURL != "https://sign.example.com/sign/"+token+"/document" {
		t.Fatalf("unexpected document url %q", session.DocumentURL)
	}
	if req := h.get(t, created.ID); req.Status != entity.RequestInProgress {
		t.Fatalf("expected in_progress after first view, got %s", req.Status)
	}

	if _, err := h.signers.Session(context.Background(), token); err != nil {
		t.Fatalf("second session: %v", err)
	}
	if n := h.events.count(entity.EventSignerViewed); n != 1 {
		t.Fatalf("expected one signer.viewed event, got %d", n)
	}
}

func TestInvalidToken(t *testing.T) {
	h := newHarness(t, false)
	var invalid *apperror.InvalidTokenError
	if _, err := h.signers.ResolveByToken(context.Background(), "nope"); !errors.As(err, &invalid) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := h.signers.Session(context.Background(), ""); !errors.As(err, &invalid) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestResolveFallsBackToDatabaseAndCaches(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, nil)
	token := created.IssuedSigners[1].AccessToken
	ctx := context.Background()

	_ = h.tokens.Delete(ctx, token)
	signer, err := h.signers.ResolveByToken(ctx, token)
	if err != nil || signer.ID != created.IssuedSigners[1].ID {
		t.Fatalf("resolve: %v %v", signer, err)
	}
	ref, found, _ := h.tokens.Get(ctx, token)
	if !found || ref != tokenRef(created.ID, signer.ID) {
		t.Fatalf("expected token to be cached, got %q", ref)
	}

	_ = h.tokens.Set(ctx, token, tokenRef(created.ID, created.IssuedSigners[0].ID))
	signer, err = h.signers.ResolveByToken(ctx, token)
	if err != nil || signer.ID != created.IssuedSigners[1].ID {
		t.Fatalf("a stale cache entry must not resolve to another signer, got %v %v", signer, err)
	}
}

func TestTierGating(t *testing.T) {
	h := newHarness(t, true)
	created := h.createAndSend(t, h.input(t,
		[]entity.SignerInput{{Email: "a@example.com", SignOrder: 1}, {Email: "b@example.com", SignOrder: 2}},
		[]entity.FieldInput{textInput("a@example.com", "fa", true), textInput("b@example.com", "fb", true)},
	))

	if got := h.notifier.recipients(); len(got) != 1 || got[0] != "a@example.com" {
		t.Fatalf("only the first tier should be invited, got %v", got)
	}

	_, err := h.submit(t, created.IssuedSigners[1].AccessToken, values("fb", "Bob"))
	var order *apperror.OutOfOrderError
	if !errors.As(err, &order) {
		t.Fatalf("expected out of order, got %v", err)
	}

	if _, err := h.submit(t, created.IssuedSigners[0].AccessToken, values("fa", "Ann")); err != nil {
		t.Fatalf("submit A: %v", err)
	}
	if got := h.notifier.recipients(); len(got) != 2 || got[1] != "b@example.com" {
		t.Fatalf("second tier should be invited once the first resolves, got %v", got)
	}
	if res, err := h.submit(t, created.IssuedSigners[1].AccessToken, values("fb", "Bob")); err != nil || res.RequestStatus != entity.RequestCompleted {
		t.Fatalf("submit B: %v %v", res, err)
	}
}

func TestDocumentServesSignedCopy(t *testing.T) {
	h := newHarness(t, false)
	created := twoParallelSigners(t, h, nil)
	token := created.IssuedSigners[0].AccessToken
	ctx := context.Background()

	before, err := h.signers.Document(ctx, token)
	if err != nil || !bytes.HasPrefix(before, []byte("%PDF")) {
		t.Fatalf("document before signing: %v", err)
	}
	if bytes.Contains(before, []byte("(Ann) Tj")) {
		t.Fatalf("source must not carry marks")
	}
	if _, err := h.submit(t, token, values("fa", "Ann")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	after, err := h.signers.Document(ctx, token)
	if err != nil || !bytes.Contains(after, []byte("(Ann) Tj")) {
		t.Fatalf("expected signed copy after signing: %v", err)
	}
}

func TestDocumentRefusesDraftRequest(t *testing.T) {
	h := newHarness(t, false)
	created, err := h.requests.Create(context.Background(), tenant, h.input(t,
		[]entity.SignerInput{{Email: "a@example.com"}},
		[]entity.FieldInput{textInput("a@example.com", "fa", true)},
	))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = h.signers.Document(context.Background(), created.IssuedSigners[0].AccessToken)
	var closed *apperror.RequestClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("expected closed request for draft, got %v", err)
	}
}
