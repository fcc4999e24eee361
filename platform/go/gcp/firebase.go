package gcp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// GetApp creates a Firebase App instance. An empty credentialsFile uses application default credentials.
func GetApp(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	return firebase.NewApp(ctx, cfg, opts...)
}

// InitFirebaseAuth initializes the Firebase App and returns an Auth client for ID token verification.
func InitFirebaseAuth(ctx context.Context, projectID, credentialsFile string) (*firebaseauth.Client, error) {
	app, err := GetApp(ctx, projectID, credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app [%w]", err)
	}

	fbAuth, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase auth [%w]", err)
	}

	return fbAuth, nil
}
