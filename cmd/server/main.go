// Package main - Incentive Hub chat service entry point
// Following Hexagonal Architecture: wiring only, no business logic here
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"incentive-hub/internal/adapters/auth"
	"incentive-hub/internal/adapters/handler"
	"incentive-hub/internal/adapters/repository"
	ws "incentive-hub/internal/adapters/websocket"
	"incentive-hub/internal/config"
	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/services"
)

func main() {
	fmt.Println("=== Incentive Hub - Chat Service Initialization ===")

	// 1. Load Configuration from Environment
	fmt.Println("[1/5] Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	fmt.Printf("Config loaded (DB: %s@%s:%d, Redis: %s)\n",
		cfg.DB.User, cfg.DB.Host, cfg.DB.Port, cfg.Redis.Addr)

	// 2. Connect to MariaDB with Retry Logic
	// Docker containers may not be ready immediately, so we retry
	fmt.Println("[2/5] Connecting to MariaDB...")
	db := connectMariaDB(cfg.DB, 5, 2*time.Second)
	defer db.Close()

	// 3. Connect to Redis with Retry Logic
	fmt.Println("[3/5] Connecting to Redis...")
	rdb := connectRedis(cfg.Redis, 5, 2*time.Second)
	defer rdb.Close()

	// 4. Repositories and core services
	fmt.Println("[4/5] Initializing services...")

	store := repository.NewMariaDBRepository(db)
	unreadCache := repository.NewRedisRepository(rdb)
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret)

	rooms := services.NewRoomBroadcaster(store)
	registry := services.NewConnectionRegistry(verifier, store, rooms)
	pipeline := services.NewMessagePipeline(store, store, rooms, unreadCache)
	engine := services.NewAssignmentEngine(store, store, store)
	conversations := services.NewConversationService(store, store, store, engine)

	hub := ws.NewChatHub(registry, rooms, pipeline)

	// 5. HTTP handlers and routes
	fmt.Println("[5/5] Initializing HTTP handlers...")

	authMW := handler.NewAuthMiddleware(verifier, store)
	chatHandler := handler.NewChatHandler(conversations, pipeline)
	dashHandler := handler.NewDashboardHandler(store, store, engine, rooms, hub)

	mux := buildRoutes(hub, authMW, chatHandler, dashHandler)

	fmt.Println("\nChat service ready")
	startHTTPServer(cfg.App.Port, mux)
}

// buildRoutes wires the REST and WebSocket surface
func buildRoutes(
	hub *ws.ChatHub,
	authMW *handler.AuthMiddleware,
	chat *handler.ChatHandler,
	dash *handler.DashboardHandler,
) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		handler.WriteSuccess(w, map[string]string{"status": "running"})
	})

	// WebSocket entry (token carried in the query string)
	mux.HandleFunc("GET /ws/chat", hub.ServeWS)

	// Chat REST surface
	mux.HandleFunc("GET /api/chats", authMW.Wrap(chat.HandleListChats))
	mux.HandleFunc("GET /api/chats/unread-count", authMW.Wrap(chat.HandleUnreadCount))
	mux.HandleFunc("GET /api/chats/application/{applicationId}", authMW.Wrap(chat.HandleGetByApplication))
	mux.HandleFunc("GET /api/chats/{chatId}/messages", authMW.Wrap(chat.HandleGetMessages))
	mux.HandleFunc("POST /api/chats/{chatId}/messages", authMW.Wrap(chat.HandleSendMessage))
	mux.HandleFunc("POST /api/chats/{chatId}/read", authMW.Wrap(chat.HandleMarkRead))

	// Admin surface
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return authMW.RequireRole(h, domain.RoleAdmin)
	}
	mux.HandleFunc("GET /api/admin/system/metrics", admin(dash.HandleSystemMetrics))
	mux.HandleFunc("GET /api/admin/consultants/workloads", admin(dash.HandleConsultantWorkloads))
	mux.HandleFunc("POST /api/admin/chats/{chatId}/reassign", admin(dash.HandleReassign))
	mux.HandleFunc("GET /api/admin/chats/{chatId}/online", admin(dash.HandleRoomMembers))
	mux.HandleFunc("POST /api/admin/users/{userId}/disconnect", admin(dash.HandleDisconnectUser))

	return mux
}

// connectMariaDB attempts to connect to MariaDB with retry logic
// Retries are necessary because Docker containers may still be initializing
func connectMariaDB(cfg config.DBConfig, maxRetries int, retryDelay time.Duration) *sql.DB {
	dsn := cfg.GetDSN()

	var db *sql.DB
	var err error

	for i := 1; i <= maxRetries; i++ {
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			log.Printf("  Attempt %d/%d: Failed to configure DB driver: %v", i, maxRetries, err)
			time.Sleep(retryDelay)
			continue
		}

		err = db.Ping()
		if err == nil {
			return db
		}

		log.Printf("  Attempt %d/%d: Cannot ping MariaDB: %v", i, maxRetries, err)
		db.Close()

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("Cannot connect to MariaDB after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}

// connectRedis attempts to connect to Redis with retry logic
func connectRedis(cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})

	ctx := context.Background()
	var err error

	for i := 1; i <= maxRetries; i++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			return rdb
		}

		log.Printf("  Attempt %d/%d: Cannot ping Redis: %v", i, maxRetries, err)

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("Cannot connect to Redis after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}

// startHTTPServer starts the HTTP server
func startHTTPServer(port int, mux *http.ServeMux) {
	addr := fmt.Sprintf(":%d", port)
	fmt.Printf("[HTTP] Server listening on %s\n", addr)
	fmt.Printf("[HTTP] WebSocket endpoint: ws://localhost%s/ws/chat\n", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
