package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mealtrack/core"
	"mealtrack/handlers/api/announcements"
	"mealtrack/handlers/api/meals"
	"mealtrack/handlers/api/specialdays"
	"mealtrack/handlers/api/stream"
	"mealtrack/handlers/api/users"
	"mealtrack/handlers/api/worklocations"
	"mealtrack/handlers/auth"
	authMiddleware "mealtrack/middleware"
	"mealtrack/notify"
	"mealtrack/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func setupRouter(store stores.Store, hub *notify.Hub) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", auth.HandleRegister(store))
		r.Post("/login", auth.HandleLogin(store))
	})

	// The SSE stream authenticates via token query parameter, so it sits
	// outside the bearer-header group.
	r.Get("/api/stream/headcount", stream.HandleStream(store, hub))

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT)

		r.Route("/users", func(r chi.Router) {
			r.Get("/me", users.HandleMe(store))
			r.Get("/teams", users.HandleTeams(store))
			r.With(authMiddleware.RequireRole(core.RoleTeamLead, core.RoleAdmin)).
				Get("/", users.HandleList(store))
		})

		r.Route("/meals", func(r chi.Router) {
			r.Route("/config", func(r chi.Router) {
				r.Get("/", meals.HandleGetConfig(store))
				r.With(authMiddleware.RequireRole(core.RoleAdmin)).
					Put("/", meals.HandleUpdateConfig(store))
			})

			r.Get("/today", meals.HandleGetTodayMeals(store))
			r.Get("/user/{user_id}", meals.HandleGetUserMeals(store))
			r.Put("/{user_id}/{date}/{meal_type}", meals.HandleUpdateParticipation(store, hub))

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireRole(core.RoleTeamLead, core.RoleAdmin))
				r.Post("/participation/admin", meals.HandleAdminOverride(store, hub))
				r.Post("/participation/admin/batch", meals.HandleBatchOverride(store, hub))
			})

			r.Route("/headcount", func(r chi.Router) {
				r.Use(authMiddleware.RequireRole(core.RoleTeamLead, core.RoleAdmin))
				r.Get("/today", meals.HandleHeadcountToday(store))
				r.Get("/team/today", meals.HandleTeamHeadcountToday(store))
				r.Get("/team/{date}", meals.HandleTeamHeadcountByDate(store))
				r.Get("/{date}", meals.HandleHeadcountByDate(store))
			})
		})

		r.Route("/special-days", func(r chi.Router) {
			r.Get("/", specialdays.HandleGetByDate(store))
			r.Get("/range", specialdays.HandleListRange(store))
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireRole(core.RoleAdmin))
				r.Post("/", specialdays.HandleCreate(store, hub))
				r.Delete("/{id}", specialdays.HandleDelete(store, hub))
			})
		})

		r.Route("/announcements", func(r chi.Router) {
			r.Use(authMiddleware.RequireRole(core.RoleTeamLead, core.RoleAdmin))
			r.Post("/draft", announcements.HandleCreateDraft(store))
			r.Get("/drafts", announcements.HandleListDrafts(store))
			r.Post("/{id}/publish", announcements.HandlePublish(store, hub))
		})

		r.Route("/work-locations", func(r chi.Router) {
			r.Get("/", worklocations.HandleGetLocations(store))
			r.Put("/", worklocations.HandleSetMyLocation(store, hub))
			r.With(authMiddleware.RequireRole(core.RoleTeamLead, core.RoleAdmin)).
				Put("/admin", worklocations.HandleAdminSetLocation(store, hub))
		})
	})

	return r
}

func waitForShutdown(server *http.Server) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-signalC

	logrus.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Shutdown error")
	}
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth()
	store := stores.GetStore()
	hub := notify.NewHub()

	r := setupRouter(store, hub)

	server := &http.Server{Addr: *listenAddress, Handler: r}
	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(server)
}
