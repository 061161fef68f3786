package service

import "github.com/lifeplannerdev/lpcrm/internal/models"

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID   string
	Role models.UserRole
}

// ActorFromClaims builds an Actor from validated JWT claims.
func ActorFromClaims(claims *models.JWTClaims) Actor {
	return Actor{ID: claims.UserID, Role: claims.Role}
}
