package taskgraphsdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientRequests(t *testing.T) {
	var gotActor string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/task/alpha", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		gotActor = r.Header.Get("X-Actor-Id")
		var body NewTask
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Task{Project: "alpha", Number: 1, Description: body.Description, Status: "todo", DependsOn: body.DependsOn})
	})
	mux.HandleFunc("/api/task/alpha/1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s", r.Method)
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		json.Unmarshal(raw, &body)
		if _, ok := body["module"]; ok {
			t.Errorf("unset fields must be omitted: %s", raw)
		}
		if body["plan"] != "" {
			t.Errorf("plan = %v, want empty string", body["plan"])
		}
		json.NewEncoder(w).Encode(Task{Project: "alpha", Number: 1, Status: body["status"].(string)})
	})
	mux.HandleFunc("/api/task/alpha/9", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":"not_found","message":"task alpha/9"}}`)
	})
	mux.HandleFunc("/api/project/alpha/search", func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q != "parser config" {
			t.Errorf("q = %q", q)
		}
		if s := r.URL.Query().Get("status"); s != "todo" {
			t.Errorf("status = %q", s)
		}
		json.NewEncoder(w).Encode([]Task{{Number: 1}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	c.ActorID = "bot"
	ctx := context.Background()

	task, err := c.CreateTask(ctx, "alpha", NewTask{Description: "Write parser", DependsOn: []int{}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Number != 1 || task.Description != "Write parser" {
		t.Fatalf("task = %+v", task)
	}
	if gotActor != "bot" {
		t.Fatalf("actor header = %q", gotActor)
	}

	status, empty := "work", ""
	task, err = c.UpdateTask(ctx, "alpha", 1, TaskUpdate{Status: &status, Plan: &empty})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Status != "work" {
		t.Fatalf("status = %q", task.Status)
	}

	_, err = c.GetTask(ctx, "alpha", 9)
	if !NotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if apiErr := err.(*APIError); apiErr.Code != "not_found" || apiErr.Message != "task alpha/9" {
		t.Fatalf("api error = %+v", apiErr)
	}

	hits, err := c.SearchTasks(ctx, "alpha", "parser config", "todo", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d", len(hits))
	}
}

func TestClientBearerAndAttachments(t *testing.T) {
	var stored []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/api/task/alpha/1/attachments/notes.txt", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		switch r.Method {
		case http.MethodPut:
			if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
				t.Errorf("content type = %q", ct)
			}
			stored, _ = io.ReadAll(r.Body)
			json.NewEncoder(w).Encode(Attachment{Name: "notes.txt", Size: int64(len(stored))})
		case http.MethodGet:
			w.Header().Set("Content-Type", "text/plain")
			w.Write(stored)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BearerToken = "tok"
	ctx := context.Background()

	att, err := c.UploadAttachment(ctx, "alpha", 1, "notes.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if att.Size != 5 {
		t.Fatalf("size = %d", att.Size)
	}
	data, err := c.DownloadAttachment(ctx, "alpha", 1, "notes.txt")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
}
