// Package app builds the agent's dependencies once and routes API requests
// to the handlers.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"

	"github.com/jun/gophvault/internal/auth"
	"github.com/jun/gophvault/internal/blob"
	"github.com/jun/gophvault/internal/blob/googledrive"
	blobmemory "github.com/jun/gophvault/internal/blob/memory"
	blobs3 "github.com/jun/gophvault/internal/blob/s3"
	"github.com/jun/gophvault/internal/config"
	"github.com/jun/gophvault/internal/crypto"
	"github.com/jun/gophvault/internal/docstore"
	"github.com/jun/gophvault/internal/docstore/dynamo"
	docmemory "github.com/jun/gophvault/internal/docstore/memory"
	"github.com/jun/gophvault/internal/docstore/postgres"
	"github.com/jun/gophvault/internal/handler"
	"github.com/jun/gophvault/internal/logging"
	"github.com/jun/gophvault/internal/metrics"
	"github.com/jun/gophvault/internal/secret"
	"github.com/jun/gophvault/internal/session"
	"github.com/jun/gophvault/internal/workspace"
)

const devJWTSecret = "default-dev-secret"

// App holds the handlers and the resources they share.
type App struct {
	authHandler   *handler.AuthHandler
	folderHandler *handler.FolderHandler
	fileHandler   *handler.FileHandler

	registry *workspace.Registry
	metrics  *metrics.Metrics
	log      *logrus.Entry
	closers  []func() error
}

// Deps are the already constructed collaborators of an App.
type Deps struct {
	Store      docstore.Store
	Blobs      blob.Provider
	Locker     session.Locker
	HolderID   string
	DriveAuth  *auth.AuthService
	Metrics    *metrics.Metrics
	JWTSecret  string
	SessionTTL time.Duration
	Transfer   config.TransferConfig
	Log        *logrus.Entry
}

// New wires the handlers around deps.
func New(deps Deps) *App {
	log := logging.OrDiscard(deps.Log)
	registry := workspace.NewRegistry(deps.Store, deps.Blobs,
		workspace.WithLocker(deps.Locker, deps.HolderID),
		workspace.WithMetrics(deps.Metrics),
		workspace.WithLogger(log),
		workspace.WithTransfer(deps.Transfer.ChunkSize, deps.Transfer.MaxParallel),
	)
	return &App{
		authHandler:   handler.NewAuthHandler(registry, deps.DriveAuth, deps.JWTSecret, deps.SessionTTL, log),
		folderHandler: handler.NewFolderHandler(registry, deps.JWTSecret, log),
		fileHandler:   handler.NewFileHandler(registry, deps.JWTSecret, log),
		registry:      registry,
		metrics:       deps.Metrics,
		log:           logging.Component(log, "app"),
	}
}

// NewApp builds every dependency named by cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	log := logrus.NewEntry(logger)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	var resolver secret.Resolver
	var encryptor crypto.TokenEncryptor
	if cfg.DevMode {
		resolver = secret.NewEnvResolver()
		encryptor = crypto.NewMockEncryptor()
		log.Warn("DEV_MODE: secrets from environment, refresh tokens not encrypted with KMS")
	} else {
		resolver = secret.NewCached(secret.NewSSMResolver(ssm.NewFromConfig(awsCfg)))
		encryptor = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
	}

	jwtSecret, err := resolver.GetSecret(ctx, cfg.JWTSecretParam)
	if err != nil {
		if !cfg.DevMode {
			return nil, fmt.Errorf("resolve jwt secret: %w", err)
		}
		log.WithError(err).Warn("Using default JWT secret")
		jwtSecret = devJWTSecret
	}

	var closers []func() error
	var dynamoClient *dynamodb.Client
	var store docstore.Store
	switch cfg.Docstore.Driver {
	case config.DriverDynamoDB:
		dynamoClient = dynamodb.NewFromConfig(awsCfg)
		store = dynamo.NewStore(dynamoClient, cfg.Docstore.TablePrefix)
	case config.DriverPostgres:
		var db *sql.DB
		db, err = postgres.Open(ctx, cfg.Docstore.PostgresDSN)
		if err != nil {
			return nil, err
		}
		closers = append(closers, db.Close)
		store = postgres.NewStore(db)
	default:
		store = docmemory.NewStore()
	}
	log.WithField("driver", cfg.Docstore.Driver).Info("Document store ready")

	var locker session.Locker = session.NewMockLocker()
	if dynamoClient != nil {
		locker = session.NewLockManager(dynamoClient, cfg.AccountLocksTable)
	}

	var driveAuth *auth.AuthService
	if cfg.Google.ClientID != "" {
		clientSecret, err := resolver.GetSecret(ctx, cfg.Google.ClientSecretParam)
		if err != nil {
			log.WithError(err).Warn("Failed to resolve Google client secret")
		}
		driveAuth = auth.NewAuthService(&oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: clientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Scopes:       []string{drive.DriveFileScope},
			Endpoint:     google.Endpoint,
		}, store, encryptor, jwtSecret, log)
	}

	m := metrics.NewMetrics()
	kind := cfg.BlobKind()
	var provider blob.Provider
	switch kind {
	case blob.KindS3:
		client, err := blobs3.NewClient(ctx, blobs3.Options{
			Bucket:          cfg.Blob.S3.Bucket,
			Region:          cfg.Blob.S3.Region,
			Endpoint:        cfg.Blob.S3.Endpoint,
			AccessKeyID:     cfg.Blob.S3.AccessKeyID,
			SecretAccessKey: cfg.Blob.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		provider = blobs3.NewProvider(client, cfg.Blob.S3.Bucket)
	case blob.KindGoogleDrive:
		if driveAuth == nil {
			return nil, errors.New("googledrive backend needs a google client id")
		}
		provider = googledrive.NewProvider(driveAuth)
	default:
		provider = blobmemory.NewProvider(blobmemory.NewStore())
	}
	log.WithField("backend", kind.String()).Info("Blob backend ready")

	app := New(Deps{
		Store:      store,
		Blobs:      blob.InstrumentedProvider{Next: provider, Kind: kind, Metrics: m},
		Locker:     locker,
		HolderID:   holderID(),
		DriveAuth:  driveAuth,
		Metrics:    m,
		JWTSecret:  jwtSecret,
		SessionTTL: cfg.SessionTTL,
		Transfer:   cfg.Transfer,
		Log:        log,
	})
	app.closers = closers
	return app, nil
}

// Metrics returns the collectors the app records into.
func (app *App) Metrics() *metrics.Metrics {
	return app.metrics
}

// Close signs every user out and releases held resources.
func (app *App) Close() error {
	app.registry.Close()
	var errs []error
	for _, c := range app.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// HandleRequest routes API requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := req.HTTPMethod
	path := strings.TrimPrefix(req.Path, "/api")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	app.log.WithFields(logrus.Fields{"method": method, "path": path}).Debug("Request")

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}
	if req.QueryStringParameters == nil {
		req.QueryStringParameters = make(map[string]string)
	}

	type route func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)
	var h route

	switch parts[0] {
	case "auth":
		switch strings.Join(parts[1:], "/") + " " + method {
		case "register POST":
			h = app.authHandler.Register
		case "unlock POST":
			h = app.authHandler.Unlock
		case "password POST":
			h = app.authHandler.ChangePassword
		case "signout POST":
			h = app.authHandler.SignOut
		case "drive/login GET":
			h = app.authHandler.DriveLogin
		case "drive/callback GET":
			h = app.authHandler.DriveCallback
		}

	case "folders":
		switch {
		case len(parts) == 1 && method == http.MethodGet:
			h = app.folderHandler.List
		case len(parts) == 1 && method == http.MethodPost:
			h = app.folderHandler.Create
		case len(parts) == 2 && method == http.MethodPatch:
			h = app.folderHandler.Rename
		case len(parts) == 2 && method == http.MethodDelete:
			h = app.folderHandler.Delete
		case len(parts) == 3 && parts[2] == "move" && method == http.MethodPost:
			h = app.folderHandler.Move
		}
		if len(parts) > 1 {
			req.PathParameters["id"] = parts[1]
		}

	case "files":
		switch {
		case len(parts) == 1 && method == http.MethodPost:
			h = app.fileHandler.Create
		case len(parts) == 2 && method == http.MethodGet:
			h = app.fileHandler.Get
		case len(parts) == 2 && method == http.MethodPatch:
			h = app.fileHandler.Rename
		case len(parts) == 2 && method == http.MethodDelete:
			h = app.fileHandler.Delete
		case len(parts) == 3 && parts[2] == "move" && method == http.MethodPost:
			h = app.fileHandler.Move
		case len(parts) == 3 && parts[2] == "thumbnail" && method == http.MethodGet:
			h = app.fileHandler.GetThumbnail
		case len(parts) == 3 && parts[2] == "thumbnail" && method == http.MethodPut:
			h = app.fileHandler.SetThumbnail
		}
		if len(parts) > 1 {
			req.PathParameters["id"] = parts[1]
		}
	}

	if h == nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusNotFound,
			Body:       fmt.Sprintf("Not Found: %s %s", method, path),
		}, nil
	}
	return app.must(h(ctx, req)), nil
}

// must turns a handler error into a 500 response.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.log.WithError(err).Error("Handler error")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}

func holderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "agent"
	}
	return host + "-" + uuid.NewString()
}
