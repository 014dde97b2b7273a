// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
//
// Services is allocated by ConnectDB and filled in by Startup, so the
// handler and shutdown hooks (which receive DBDeps by value) see the same
// stores and background workers.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	Services *Services
}
