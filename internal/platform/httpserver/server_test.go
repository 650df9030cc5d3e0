package httpserver_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	paymentservice "agora/contexts/finance-core/payment-service"
	paymentports "agora/contexts/finance-core/payment-service/ports"
	paymenthttp "agora/contexts/finance-core/payment-service/transport/http"
	pollservice "agora/contexts/polling/poll-service"
	pollhttp "agora/contexts/polling/poll-service/transport/http"
	voteengine "agora/contexts/polling/vote-engine"
	voteworkers "agora/contexts/polling/vote-engine/application/workers"
	voteentities "agora/contexts/polling/vote-engine/domain/entities"
	voteports "agora/contexts/polling/vote-engine/ports"
	votehttp "agora/contexts/polling/vote-engine/transport/http"
	"agora/internal/platform/httpserver"
	"agora/internal/platform/messaging"
)

type okGateway struct{}

func (okGateway) InitializeTransaction(_ context.Context, req paymentports.InitializeRequest) (paymentports.InitializeResult, error) {
	return paymentports.InitializeResult{CheckoutURL: "https://checkout.example/" + req.Reference}, nil
}

func (okGateway) VerifyTransaction(_ context.Context, _ string) (paymentports.VerifyResult, error) {
	return paymentports.VerifyResult{Status: paymentports.VerifySuccess}, nil
}

type testEnv struct {
	server   *httptest.Server
	polls    pollservice.Module
	votes    voteengine.Module
	payments paymentservice.Module
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	polls := pollservice.NewInMemoryModule(nil, nil)
	votes := voteengine.NewInMemoryModule(4, nil)
	payments := paymentservice.NewInMemoryModule(okGateway{}, nil)

	srv := httpserver.New(polls, votes, payments, votes.Hub, nil, ":0")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return testEnv{server: ts, polls: polls, votes: votes, payments: payments}
}

func (e testEnv) doJSON(t *testing.T, method string, path string, userID string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request failed: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	return out
}

// createOneVotePoll creates a poll through the API and mirrors it into the
// vote engine's projection store, the way the repositories share the polls
// table in the wired deployment.
func createOneVotePoll(t *testing.T, env testEnv) pollhttp.PollResponse {
	t.Helper()
	resp := env.doJSON(t, http.MethodPost, "/api/polls", "owner-1", pollhttp.CreatePollRequest{
		Question:        "Ship on Friday?",
		Public:          true,
		DurationValue:   1,
		DurationUnit:    "days",
		Options:         []string{"Yes", "No"},
		OneVotePerVoter: true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create poll: expected 201, got %d", resp.StatusCode)
	}
	poll := decodeBody[pollhttp.PollResponse](t, resp)

	counts := make([]voteentities.OptionCount, 0, len(poll.Options))
	for _, option := range poll.Options {
		counts = append(counts, voteentities.OptionCount{
			OptionID: option.OptionID,
			Label:    option.Label,
			Position: option.Position,
		})
	}
	env.votes.Store.SeedPoll(voteports.PollProjection{
		PollID:          poll.PollID,
		OwnerID:         poll.OwnerID,
		State:           poll.State,
		StartAt:         poll.StartAt,
		EndAt:           poll.EndAt,
		Active:          poll.Active,
		OneVotePerVoter: true,
	}, counts)
	return poll
}

func TestVoteFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	poll := createOneVotePoll(t, env)
	yes, no := poll.Options[0].OptionID, poll.Options[1].OptionID

	resp := env.doJSON(t, http.MethodPost, "/api/polls/"+poll.PollID+"/vote", "u1",
		votehttp.CastVoteRequest{OptionID: yes})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first vote: expected 201, got %d", resp.StatusCode)
	}
	vote := decodeBody[votehttp.VoteResponse](t, resp)
	if vote.TotalVotes != 1 {
		t.Fatalf("expected total 1 after first vote, got %d", vote.TotalVotes)
	}

	// Same voter, different option: the one-vote rule keys on the voter, not
	// the choice.
	resp = env.doJSON(t, http.MethodPost, "/api/polls/"+poll.PollID+"/vote", "u1",
		votehttp.CastVoteRequest{OptionID: no})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("repeat vote: expected 409, got %d", resp.StatusCode)
	}
	errBody := decodeBody[votehttp.ErrorResponse](t, resp)
	if errBody.Code != "already_voted" {
		t.Fatalf("expected already_voted, got %s", errBody.Code)
	}

	resp = env.doJSON(t, http.MethodPost, "/api/polls/"+poll.PollID+"/vote", "u2",
		votehttp.CastVoteRequest{OptionID: no})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second voter: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.doJSON(t, http.MethodGet, "/api/polls/"+poll.PollID+"/results", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("results: expected 200, got %d", resp.StatusCode)
	}
	tally := decodeBody[votehttp.TallyResponse](t, resp)
	if tally.TotalVotes != 2 {
		t.Fatalf("expected total 2, got %d", tally.TotalVotes)
	}
	for _, row := range tally.Results {
		if row.VoteCount != 1 {
			t.Fatalf("expected 1 vote per option, got %+v", tally.Results)
		}
	}
}

func TestLiveStreamSnapshotThenDelta(t *testing.T) {
	env := newTestEnv(t)
	poll := createOneVotePoll(t, env)
	yes := poll.Options[0].OptionID

	resp := env.doJSON(t, http.MethodPost, "/api/polls/"+poll.PollID+"/vote", "u1",
		votehttp.CastVoteRequest{OptionID: yes})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed vote: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	liveResp, err := http.Get(env.server.URL + "/api/polls/" + poll.PollID + "/live")
	if err != nil {
		t.Fatalf("live request failed: %v", err)
	}
	defer liveResp.Body.Close()
	if ct := liveResp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	reader := bufio.NewReader(liveResp.Body)
	snapshot := readFrame(t, reader)
	if snapshot.Kind != "snapshot" || snapshot.TotalVotes != 1 {
		t.Fatalf("expected snapshot of 1 vote, got %+v", snapshot)
	}

	resp = env.doJSON(t, http.MethodPost, "/api/polls/"+poll.PollID+"/vote", "u2",
		votehttp.CastVoteRequest{OptionID: yes})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("delta vote: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	delta := readFrame(t, reader)
	if delta.Kind != "delta" || delta.OptionID != yes || delta.Delta != 1 {
		t.Fatalf("expected delta for %s, got %+v", yes, delta)
	}
}

func readFrame(t *testing.T, reader *bufio.Reader) votehttp.TallyEventPayload {
	t.Helper()
	deadline := time.After(5 * time.Second)
	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				errs <- err
				return
			}
			if strings.HasPrefix(line, "data: ") {
				lines <- line
				return
			}
		}
	}()
	select {
	case <-deadline:
		t.Fatalf("timed out waiting for stream frame")
		return votehttp.TallyEventPayload{}
	case err := <-errs:
		t.Fatalf("stream read failed: %v", err)
		return votehttp.TallyEventPayload{}
	case line := <-lines:
		var payload votehttp.TallyEventPayload
		if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &payload); err != nil {
			t.Fatalf("decode frame failed: %v", err)
		}
		return payload
	}
}

// The poll.closed consumer shares the hub that serves the SSE streams, so a
// close event on the bus must deliver the final tally and end each stream.
func TestPollClosedEventEndsLiveStream(t *testing.T) {
	env := newTestEnv(t)
	poll := createOneVotePoll(t, env)
	yes := poll.Options[0].OptionID

	resp := env.doJSON(t, http.MethodPost, "/api/polls/"+poll.PollID+"/vote", "u1",
		votehttp.CastVoteRequest{OptionID: yes})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed vote: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	bus, err := messaging.NewKafka(nil, nil)
	if err != nil {
		t.Fatalf("bus init failed: %v", err)
	}
	consumer := voteworkers.PollStateConsumer{
		Subscriber:  bus,
		Dedup:       env.votes.Store,
		Ledger:      env.votes.Store,
		Broadcaster: env.votes.Hub,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("consumer start failed: %v", err)
	}

	liveResp, err := http.Get(env.server.URL + "/api/polls/" + poll.PollID + "/live")
	if err != nil {
		t.Fatalf("live request failed: %v", err)
	}
	defer liveResp.Body.Close()
	reader := bufio.NewReader(liveResp.Body)
	if snapshot := readFrame(t, reader); snapshot.Kind != "snapshot" {
		t.Fatalf("expected snapshot first, got %+v", snapshot)
	}

	data, err := json.Marshal(map[string]any{"poll_id": poll.PollID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := bus.Publish(context.Background(), "poll.closed", voteports.EventEnvelope{
		EventID:      "event-close-1",
		EventType:    "poll.closed",
		OccurredAt:   time.Now().UTC(),
		PartitionKey: poll.PollID,
		Data:         data,
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	final := readFrame(t, reader)
	if final.Kind != "closed" || final.TotalVotes != 1 {
		t.Fatalf("expected closed frame with final tally, got %+v", final)
	}

	// After the closed frame the handler returns and the body ends.
	ended := make(chan struct{})
	go func() {
		for {
			if _, err := reader.ReadString('\n'); err != nil {
				close(ended)
				return
			}
		}
	}()
	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatalf("stream did not end after the closed event")
	}
}

func TestDomainErrorsMapToStatusCodes(t *testing.T) {
	env := newTestEnv(t)
	poll := createOneVotePoll(t, env)

	resp := env.doJSON(t, http.MethodGet, "/api/polls/does-not-exist", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown poll: expected 404, got %d", resp.StatusCode)
	}
	body := decodeBody[pollhttp.ErrorResponse](t, resp)
	if body.Code != "poll_not_found" {
		t.Fatalf("expected poll_not_found, got %s", body.Code)
	}

	resp = env.doJSON(t, http.MethodPost, "/api/polls", "", pollhttp.CreatePollRequest{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("create without identity: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.doJSON(t, http.MethodPost, "/api/polls/"+poll.PollID+"/vote", "u1",
		votehttp.CastVoteRequest{OptionID: "ghost-option"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown option: expected 422, got %d", resp.StatusCode)
	}
	voteErr := decodeBody[votehttp.ErrorResponse](t, resp)
	if voteErr.Code != "option_not_found" {
		t.Fatalf("expected option_not_found, got %s", voteErr.Code)
	}

	resp = env.doJSON(t, http.MethodGet, "/api/payments/missing-ref", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown payment: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPaymentEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doJSON(t, http.MethodPost, "/api/payments/initialize", "owner-1",
		paymenthttp.InitializePaymentRequest{
			PollID:   "poll-9",
			Amount:   200,
			Currency: "ETB",
			Email:    "owner@example.com",
		})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("initialize: expected 201, got %d", resp.StatusCode)
	}
	initResp := decodeBody[paymenthttp.InitializePaymentResponse](t, resp)
	if initResp.Status != "pending" || initResp.CheckoutURL == "" {
		t.Fatalf("unexpected initialize response %+v", initResp)
	}

	resp = env.doJSON(t, http.MethodPost, "/api/payments/verify", "",
		paymenthttp.VerifyPaymentRequest{Reference: initResp.Reference})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", resp.StatusCode)
	}
	verified := decodeBody[paymenthttp.PaymentResponse](t, resp)
	if verified.Status != "success" {
		t.Fatalf("expected success, got %s", verified.Status)
	}

	// Webhook for the same reference replays the settled outcome.
	resp = env.doJSON(t, http.MethodPost, "/api/payments/webhook", "",
		paymenthttp.WebhookRequest{TxRef: initResp.Reference, Status: "success"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	if got := env.payments.Store.ActivationCount("poll-9"); got != 1 {
		t.Fatalf("expected exactly one activation, got %d", got)
	}

	resp = env.doJSON(t, http.MethodGet, fmt.Sprintf("/api/payments/%s", initResp.Reference), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get payment: expected 200, got %d", resp.StatusCode)
	}
	stored := decodeBody[paymenthttp.PaymentResponse](t, resp)
	if stored.Status != "success" {
		t.Fatalf("expected stored success, got %s", stored.Status)
	}
}
