package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omar-gamzatov/content-guardian/internal/mockprovider"
)

func main() {
	addr := flag.String("addr", "", "listen address (default 127.0.0.1:$MOCK_CLASSIFIER_PORT or 127.0.0.1:18090)")
	flag.Parse()

	shutdown, baseURL, err := mockprovider.StartMockClassifier(*addr)
	if err != nil {
		log.Fatalf("start mock classifier: %v", err)
	}
	log.Printf("point model.base_url at %s", baseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
