package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/intelligrit/quakesafe/internal/model"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL+"/", 0, 5*time.Second)
	c.UserID = "u1"
	return c
}

func TestFetchPins(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pins" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("user_id") != "u1" {
			t.Errorf("expected user_id u1, got %q", r.URL.Query().Get("user_id"))
		}
		w.Write([]byte(`[
			{"id":"a","latitude":37.7,"longitude":-122.4,"image_ref":"a.jpg"},
			{"id":"b","latitude":null,"longitude":10,"image_ref":"b.jpg"}
		]`))
	})

	pins, err := c.FetchPins(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pins) != 2 {
		t.Fatalf("expected 2 records, got %d", len(pins))
	}
	if _, ok := pins[0].Pin(); !ok {
		t.Error("expected first record to be a valid pin")
	}
	if pins[1].Latitude != nil {
		t.Errorf("expected nil latitude, got %v", *pins[1].Latitude)
	}
}

func TestFetchAssessments(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("image_id") != "img-1" {
			t.Errorf("unexpected image_id %q", r.URL.Query().Get("image_id"))
		}
		json.NewEncoder(w).Encode([]model.StoredAssessment{
			{ID: "s2", ImageID: "img-1", Assessment: model.Assessment{Score: 72, SurvivabilityLabel: "6.5", Description: "ok"}},
			{ID: "s1", ImageID: "img-1", Assessment: model.Assessment{Score: 30}},
		})
	})

	got, err := c.FetchAssessments(context.Background(), "img-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Score != 72 || got[0].SurvivabilityLabel != "6.5" {
		t.Errorf("unexpected assessments %+v", got)
	}
}

func TestStatusErrorMapping(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"image_id is required"}`))
	})

	_, err := c.FetchAssessments(context.Background(), "")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusBadRequest || se.Message != "image_id is required" {
		t.Errorf("unexpected status error %+v", se)
	}
}

func TestStatusErrorPlainBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := c.FetchPins(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Message != "upstream down" {
		t.Fatalf("expected plain-text status error, got %v", err)
	}
}

func TestMalformedBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	_, err := c.FetchPins(context.Background())
	if err == nil || !strings.Contains(err.Error(), "decoding response") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestUploadImage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/safety-assessment" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing form: %v", err)
			return
		}
		if r.FormValue("user_id") != "u1" || r.FormValue("latitude") != "37.5" || r.FormValue("label") != "Bedroom" {
			t.Errorf("unexpected fields %v", r.MultipartForm.Value)
		}
		if _, ok := r.MultipartForm.Value["longitude"]; ok {
			t.Error("expected no longitude field")
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("reading file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "imagebytes" || hdr.Filename != "room.png" || hdr.Header.Get("Content-Type") != "image/png" {
			t.Errorf("unexpected file part %q %q %q", data, hdr.Filename, hdr.Header.Get("Content-Type"))
		}

		json.NewEncoder(w).Encode(model.SafetyAssessmentResult{
			Image:      model.Image{ID: "img-1", UserID: "u1"},
			Assessment: model.StoredAssessment{ID: "s1", ImageID: "img-1", Assessment: model.Assessment{Score: 88}},
		})
	})

	lat := 37.5
	res, err := c.UploadImage(context.Background(), Upload{
		Filename:    "/tmp/room.png",
		ContentType: "image/png",
		Data:        strings.NewReader("imagebytes"),
		Label:       "Bedroom",
		Latitude:    &lat,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Image.ID != "img-1" || res.Assessment.Score != 88 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestChat(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			if req["user_id"] != "u1" || req["message"] != "hello" {
				t.Errorf("unexpected chat request %v", req)
			}
			json.NewEncoder(w).Encode(model.ChatReply{
				Message: model.ChatMessage{Text: "hello", Sender: model.SenderUser},
				Reply:   model.ChatMessage{Text: "Hi there.", Sender: model.SenderAssistant},
			})
		case http.MethodGet:
			json.NewEncoder(w).Encode([]model.ChatMessage{
				{Text: "hello", Sender: model.SenderUser},
				{Text: "Hi there.", Sender: model.SenderAssistant},
			})
		}
	})

	reply, err := c.Chat(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Reply.Text != "Hi there." {
		t.Errorf("unexpected reply %+v", reply)
	}

	history, err := c.ChatHistory(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 || history[1].Sender != model.SenderAssistant {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestContextCancelled(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.FetchPins(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestUploadImageRejectsNonFinite(t *testing.T) {
	called := false
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	nan := math.NaN()
	_, err := c.UploadImage(context.Background(), Upload{
		Filename: "room.jpg",
		Data:     strings.NewReader("x"),
		Latitude: &nan,
	})
	if err == nil {
		t.Fatal("expected error for NaN latitude")
	}
	if called {
		t.Error("expected no request to be sent")
	}
}
