package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/libris-app/libris/internal/libris/config"
	"github.com/libris-app/libris/internal/libris/handlers"
	"github.com/libris-app/libris/internal/libris/logger"
	"github.com/libris-app/libris/internal/libris/middleware"
	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/repository"
	"github.com/libris-app/libris/internal/libris/service"
)

// Server represents the HTTP server
type Server struct {
	cfg        *config.Config
	repo       repository.Repository
	notifier   *service.Notifier
	handler    *handlers.Handler
	httpServer *http.Server
}

// NewServer creates a new server
func NewServer(cfg *config.Config) *Server {
	repo := repository.NewPostgresRepository()
	mailer := service.NewMailer(cfg.MailRelayURL, cfg.MailFrom)
	gateways := map[string]service.Gateway{
		models.ProviderStripe: service.NewStripeGateway(cfg.StripeAddress),
		models.ProviderIyzico: service.NewIyzicoGateway(cfg.IyzicoAddress),
	}
	notifier := service.NewNotifier(repo, mailer)
	handler := handlers.NewHandler(repo, gateways, mailer,
		cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.UploadDir)

	return &Server{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		handler:  handler,
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	// Initialize repository
	if err := s.repo.InitDB(s.cfg.DatabaseURI); err != nil {
		return err
	}

	// Start background worker
	s.notifier.Start()

	r := s.router()

	s.httpServer = &http.Server{
		Addr:    s.cfg.RunAddress,
		Handler: r,
	}

	logger.Info().Str("addr", s.cfg.RunAddress).Msg("starting server")
	return s.httpServer.ListenAndServe()
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	jwtConfig := &middleware.JWTConfig{
		SecretKey: s.cfg.JWTSecret,
		Repo:      s.repo,
	}

	// Uploaded book covers
	r.Handle("/upload/*", http.StripPrefix("/upload/", http.FileServer(http.Dir(s.cfg.UploadDir))))

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/auth/register", s.handler.Register)
		r.Post("/auth/login", s.handler.Login)
		r.Post("/auth/refresh", s.handler.Refresh)
		r.Post("/auth/logout", s.handler.Logout)

		r.Get("/books", s.handler.ListBooks)
		r.Get("/books/popular", s.handler.PopularBooks)
		r.Get("/books/stats", s.handler.LibraryStats)
		r.Get("/books/{id}", s.handler.GetBook)
		r.Get("/books/{id}/reviews", s.handler.BookReviews)

		r.Post("/messages", s.handler.SendMessage)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtConfig))

			r.Post("/loans", s.handler.Borrow)
			r.Get("/loans", s.handler.MyLoans)
			r.Get("/loans/fees", s.handler.MyFees)
			r.Post("/loans/{id}/return", s.handler.Return)

			r.Post("/reviews", s.handler.AddReview)
			r.Get("/reviews/mine", s.handler.MyReviews)
			r.Delete("/reviews/{id}", s.handler.DeleteReview)

			r.Post("/favorites", s.handler.AddFavorite)
			r.Get("/favorites", s.handler.MyFavorites)
			r.Delete("/favorites/{id}", s.handler.RemoveFavorite)

			r.Post("/payments/checkout", s.handler.Checkout)
			r.Post("/payments/confirm", s.handler.Confirm)
			r.Post("/payments/cancel", s.handler.CancelPayment)

			r.Get("/users/me", s.handler.Me)
			r.Put("/users/me", s.handler.UpdateMe)
			r.Post("/users/me/password", s.handler.ChangePassword)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Post("/books", s.handler.CreateBook)
				r.Put("/books/{id}", s.handler.UpdateBook)
				r.Delete("/books/{id}", s.handler.DeleteBook)

				r.Get("/admin/loans", s.handler.AdminListLoans)
				r.Get("/admin/loans/stats", s.handler.AdminFeeStats)
				r.Post("/admin/loans/{id}/waive", s.handler.WaiveFee)

				r.Get("/admin/reviews", s.handler.AdminListReviews)

				r.Get("/admin/messages", s.handler.AdminListMessages)
				r.Get("/admin/messages/unread-count", s.handler.UnreadCount)
				r.Post("/admin/messages/send", s.handler.SendUserMessage)
				r.Post("/admin/messages/{id}/read", s.handler.MarkMessageRead)
				r.Post("/admin/messages/{id}/reply", s.handler.ReplyMessage)

				r.Get("/admin/users", s.handler.AdminListUsers)
				r.Put("/admin/users/{id}", s.handler.AdminUpdateUser)
				r.Delete("/admin/users/{id}", s.handler.AdminDeleteUser)
			})
		})
	})

	return r
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Shutdown HTTP server
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}

	// Stop background worker
	if s.notifier != nil {
		s.notifier.Stop()
	}

	// Close repository
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			return err
		}
	}

	return nil
}
