// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app, plus the
// services built on them in ConnectDB.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Registry collects the app's Prometheus metrics for /metrics.
	Registry *prometheus.Registry

	Services Services
}
