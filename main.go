package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"andon/internal/audit"
	"andon/internal/auth"
	"andon/internal/config"
	"andon/internal/database"
	"andon/internal/handlers/admin"
	"andon/internal/handlers/problems"
	"andon/internal/lifecycle"
	"andon/internal/metrics"
	"andon/internal/models"
	"andon/internal/notify"
	"andon/internal/reconcile"
	"andon/internal/store"
	"andon/internal/ws"
)

func main() {
	port := flag.Int("port", 9000, "HTTP port")
	dbPath := flag.String("db", "andon.db", "SQLite database path")
	cfgPath := flag.String("config", "andon.yml", "YAML config path (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal("Config load failed:", err)
	}

	if err := initDB(*dbPath); err != nil {
		log.Fatal("DB init failed:", err)
	}
	seedDB()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		log.Fatal("Metrics registration failed:", err)
	}

	st := &store.ProblemStore{DB: db}
	hub := ws.NewHub()
	engine := &lifecycle.Engine{
		Store:        st,
		ForwardRole:  cfg.ForwardRoleFor,
		StoreTimeout: 5 * time.Second,
	}
	router := &notify.Router{
		Hub:           hub,
		BuildSnapshot: problems.NewSnapshotBuilder(st, time.Now),
		Cooldown:      cfg.PopupCooldown,
	}
	hub.OnRequestUpdate = router.SendSnapshot

	reconciler := &reconcile.Reconciler{
		Hub:      hub,
		Store:    st,
		Interval: cfg.ReconcileInterval,
		MaxDown:  time.Hour,
	}

	authenticate := func(r *http.Request) (string, models.Viewer, error) {
		return auth.ViewerFromRequest(db, r)
	}

	ph := &problems.Handler{
		DB:         db,
		Store:      st,
		Engine:     engine,
		Router:     router,
		Reconciler: reconciler,
		Hub:        hub,
		Config:     cfg,
		NextIDFunc: func(prefix, table string, digits int) string {
			return database.NextID(db, prefix, table, digits)
		},
		GetViewer: authenticate,
	}

	ah := &admin.Handler{
		DB:            db,
		Config:        cfg,
		GenerateToken: func() string { return uuid.New().String() },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reconciler.Run(ctx)

	// Background feed generator and audit retention, every 5 minutes.
	go func() {
		time.Sleep(5 * time.Second)
		for {
			ph.GenerateNotifications()
			audit.CleanupOldAuditLogs(db, 90)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Minute):
			}
		}
	}()

	mux := http.NewServeMux()

	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "static/index.html")
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.HandleWebSocket(hub, authenticate, w, r)
	})

	// Auth routes
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			ah.HandleLogin(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			ah.HandleLogout(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		ah.HandleMe(w, r)
	})
	mux.HandleFunc("/auth/change-password", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			ah.HandleChangePassword(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})

	// API routes - using a simple router
	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
		path = strings.TrimSuffix(path, "/")
		parts := strings.Split(path, "/")

		switch {
		// Dashboard
		case path == "dashboard" && r.Method == "GET":
			ph.Dashboard(w, r)

		// Problems
		case path == "problems/active" && r.Method == "GET":
			ph.ListActive(w, r)
		case path == "problems/sync" && r.Method == "GET":
			ph.Sync(w, r)
		case path == "problems/export" && r.Method == "GET":
			ph.Export(w, r)
		case parts[0] == "problems" && len(parts) == 1 && r.Method == "GET":
			ph.List(w, r)
		case parts[0] == "problems" && len(parts) == 1 && r.Method == "POST":
			ph.Create(w, r)
		case parts[0] == "problems" && len(parts) == 2 && r.Method == "GET":
			ph.Get(w, r, parts[1])
		case parts[0] == "problems" && len(parts) == 3 && parts[2] == "forward" && r.Method == "POST":
			ph.Forward(w, r, parts[1])
		case parts[0] == "problems" && len(parts) == 3 && parts[2] == "receive" && r.Method == "POST":
			ph.Receive(w, r, parts[1])
		case parts[0] == "problems" && len(parts) == 3 && parts[2] == "feedback-resolve" && r.Method == "POST":
			ph.FeedbackResolve(w, r, parts[1])
		case parts[0] == "problems" && len(parts) == 3 && parts[2] == "final-resolve" && r.Method == "POST":
			ph.FinalResolve(w, r, parts[1])
		case parts[0] == "problems" && len(parts) == 3 && parts[2] == "status" && r.Method == "PUT":
			ph.SetStatus(w, r, parts[1])

		// Notifications
		case parts[0] == "notifications" && len(parts) == 1 && r.Method == "GET":
			ph.ListNotifications(w, r)
		case parts[0] == "notifications" && len(parts) == 3 && parts[2] == "read" && r.Method == "POST":
			ph.MarkNotificationRead(w, r, parts[1])

		// Audit
		case parts[0] == "audit" && len(parts) == 1 && r.Method == "GET":
			ah.ListAuditLog(w, r)

		// Users
		case parts[0] == "users" && len(parts) == 1 && r.Method == "GET":
			ah.ListUsers(w, r)
		case parts[0] == "users" && len(parts) == 1 && r.Method == "POST":
			ah.CreateUser(w, r)
		case parts[0] == "users" && len(parts) == 2 && r.Method == "PUT":
			ah.UpdateUser(w, r, parts[1])
		case parts[0] == "users" && len(parts) == 2 && r.Method == "DELETE":
			ah.DeleteUser(w, r, parts[1])
		case parts[0] == "users" && len(parts) == 3 && parts[2] == "password" && r.Method == "PUT":
			ah.ResetPassword(w, r, parts[1])

		default:
			http.Error(w, `{"error":"not found"}`, 404)
		}
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Andon server starting on http://localhost%s", addr)
	log.Fatal(http.ListenAndServe(addr, logging(requireAuth(mux))))
}
