package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	"github.com/JakeFAU/sbir-solicitations/internal/config"
	"github.com/JakeFAU/sbir-solicitations/internal/grants"
	"github.com/JakeFAU/sbir-solicitations/internal/storage/memory"
)

// ExampleNewServer shows how to serve the topic search endpoint.
func ExampleNewServer() {
	store := memory.NewStore()
	ctx := context.Background()
	title, agency := "Lunar Surface Optics", "NASA"
	solID, err := store.InsertSolicitation(ctx, grants.Solicitation{Title: &title, Agency: &agency})
	if err != nil {
		panic(err)
	}
	topic := "Optical coatings"
	if _, err := store.InsertTopic(ctx, grants.Topic{SolicitationFK: solID, Title: &topic}); err != nil {
		panic(err)
	}

	server := NewServer(store, config.Config{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/topics/search?agency=NASA&keywords=optical", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var topics []grants.Topic
	if err := json.Unmarshal(rec.Body.Bytes(), &topics); err != nil {
		panic(err)
	}
	fmt.Printf("status %d, topics: %d, first: %s\n", rec.Code, len(topics), *topics[0].Title)
	// Output:
	// status 200, topics: 1, first: Optical coatings
}
