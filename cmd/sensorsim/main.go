package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/terminal-bench/gridcast/internal/carbon"
)

// sensorsim serves a simulated grid carbon-intensity signal for demos and
// integration testing. The orchestrator treats it like any other sensor.
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}

	mode := os.Getenv("CARBON_MODE")
	var seed int64
	if v := os.Getenv("CARBON_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			seed = n
		}
	}

	sim := carbon.NewSimulator(carbon.SimulatorConfig{Mode: mode, Seed: seed})

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	r.GET("/carbon", func(c *gin.Context) {
		c.JSON(http.StatusOK, sim.Next())
	})

	r.GET("/mode", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"mode": sim.Mode()})
	})

	r.PUT("/mode", func(c *gin.Context) {
		var req struct {
			Mode string `json:"mode" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		switch req.Mode {
		case carbon.ModeAuto, carbon.ModeLow, carbon.ModeHigh:
			sim.SetMode(req.Mode)
			c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be auto, low or high"})
		}
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("sensor simulator listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
}
