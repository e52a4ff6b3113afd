package app

import (
	httpMW "github.com/Simmak7/project-Mnemosyne-sub001/internal/http/middleware"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, services.Auth),
	}
}
