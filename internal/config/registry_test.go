package config

import (
	"errors"
	"testing"

	"github.com/voxline-ai/voxline/pkg/provider/stt"
	sttmock "github.com/voxline-ai/voxline/pkg/provider/stt/mock"
)

func TestRegistry_CreateSTT(t *testing.T) {
	r := NewRegistry()
	var gotEntry ProviderEntry
	r.RegisterSTT("mock", func(e ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &sttmock.Provider{}, nil
	})

	entry := ProviderEntry{Name: "mock", APIKey: "key", Model: "m1"}
	p, err := r.CreateSTT(entry)
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if p == nil {
		t.Fatal("CreateSTT returned nil provider")
	}
	if gotEntry.Name != entry.Name || gotEntry.APIKey != entry.APIKey || gotEntry.Model != entry.Model {
		t.Errorf("factory received %+v", gotEntry)
	}
}

func TestRegistry_UnregisteredProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateLLM(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	r := NewRegistry()
	first := &sttmock.Provider{}
	second := &sttmock.Provider{}
	r.RegisterSTT("mock", func(ProviderEntry) (stt.Provider, error) { return first, nil })
	r.RegisterSTT("mock", func(ProviderEntry) (stt.Provider, error) { return second, nil })

	p, err := r.CreateSTT(ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if p != second {
		t.Error("later registration did not overwrite the earlier one")
	}
}
