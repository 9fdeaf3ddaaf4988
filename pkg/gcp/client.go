package gcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	run "cloud.google.com/go/run/apiv2"
	runpb "cloud.google.com/go/run/apiv2/runpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// ErrNotFound is returned when a Firestore document or Cloud Run service does not exist
var ErrNotFound = errors.New("not found")

// Client wraps all GCP service clients
type Client struct {
	ProjectID       string
	Region          string
	RunClient       *run.ServicesClient
	FirestoreClient *firestore.Client
	PubSubClient    *pubsub.Client

	topicsMu sync.Mutex
	topics   map[string]*pubsub.Topic

	createdMu sync.Mutex
	created   []string
}

// NewClient creates a new GCP client with all necessary services
func NewClient(ctx context.Context, projectID, region string, opts ...option.ClientOption) (*Client, error) {
	// Initialize Cloud Run client
	runClient, err := run.NewServicesClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Run client: %w", err)
	}

	// Initialize Firestore client
	firestoreClient, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		runClient.Close()
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	// Initialize Pub/Sub client
	pubsubClient, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		runClient.Close()
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}

	return &Client{
		ProjectID:       projectID,
		Region:          region,
		RunClient:       runClient,
		FirestoreClient: firestoreClient,
		PubSubClient:    pubsubClient,
		topics:          make(map[string]*pubsub.Topic),
	}, nil
}

// Close closes all GCP clients
func (c *Client) Close() error {
	var errs []error

	c.topicsMu.Lock()
	for _, topic := range c.topics {
		topic.Stop()
	}
	c.topicsMu.Unlock()

	if err := c.RunClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close Cloud Run client: %w", err))
	}

	if err := c.FirestoreClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close Firestore client: %w", err))
	}

	if err := c.PubSubClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close Pub/Sub client: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing clients: %v", errs)
	}

	return nil
}

func (c *Client) serviceName(serviceName string) string {
	return fmt.Sprintf("projects/%s/locations/%s/services/%s", c.ProjectID, c.Region, serviceName)
}

// EnsureService returns the URL of a Cloud Run service, creating it from
// imageURI when it does not exist yet.
func (c *Client) EnsureService(ctx context.Context, serviceName, imageURI string, env map[string]string) (string, error) {
	url, err := c.GetServiceURL(ctx, serviceName)
	if err == nil {
		return url, nil
	}
	if !errors.Is(err, ErrNotFound) || imageURI == "" {
		return "", err
	}

	service, err := c.CreateCloudRunService(ctx, serviceName, imageURI, env)
	if err != nil {
		return "", err
	}

	c.createdMu.Lock()
	c.created = append(c.created, serviceName)
	c.createdMu.Unlock()
	return service.Uri, nil
}

// DeleteCreatedServices deletes every service EnsureService created. Services
// that already existed are left alone.
func (c *Client) DeleteCreatedServices(ctx context.Context) error {
	c.createdMu.Lock()
	names := c.created
	c.created = nil
	c.createdMu.Unlock()

	var errs []error
	for _, name := range names {
		if err := c.DeleteCloudRunService(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// CreateCloudRunService creates a new Cloud Run service for the researcher drone
func (c *Client) CreateCloudRunService(ctx context.Context, serviceName, imageURI string, env map[string]string) (*runpb.Service, error) {
	log.Printf("Creating Cloud Run service: %s with image: %s", serviceName, imageURI)

	var envVars []*runpb.EnvVar
	for key, value := range env {
		envVars = append(envVars, &runpb.EnvVar{
			Name: key,
			Values: &runpb.EnvVar_Value{
				Value: value,
			},
		})
	}

	req := &runpb.CreateServiceRequest{
		Parent:    fmt.Sprintf("projects/%s/locations/%s", c.ProjectID, c.Region),
		ServiceId: serviceName,
		Service: &runpb.Service{
			Template: &runpb.RevisionTemplate{
				Containers: []*runpb.Container{
					{
						Image: imageURI,
						Env:   envVars,
						Resources: &runpb.ResourceRequirements{
							Limits: map[string]string{
								"memory": "512Mi",
								"cpu":    "1000m",
							},
						},
						Ports: []*runpb.ContainerPort{
							{
								Name:          "http1",
								ContainerPort: 8080,
							},
						},
					},
				},
				Scaling: &runpb.RevisionScaling{
					MinInstanceCount: 0,
					MaxInstanceCount: 10,
				},
				// Section synthesis can run for several minutes
				Timeout: durationpb.New(5 * time.Minute),
			},
			Ingress: runpb.IngressTraffic_INGRESS_TRAFFIC_ALL,
		},
	}

	op, err := c.RunClient.CreateService(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Run service: %w", err)
	}

	log.Printf("Service creation initiated, waiting for completion...")

	service, err := op.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for service creation: %w", err)
	}

	log.Printf("Successfully created Cloud Run service: %s at %s", service.Name, service.Uri)
	return service, nil
}

// DeleteCloudRunService deletes a Cloud Run service
func (c *Client) DeleteCloudRunService(ctx context.Context, serviceName string) error {
	op, err := c.RunClient.DeleteService(ctx, &runpb.DeleteServiceRequest{Name: c.serviceName(serviceName)})
	if err != nil {
		return fmt.Errorf("failed to delete Cloud Run service: %w", err)
	}

	if _, err := op.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for service deletion: %w", err)
	}

	log.Printf("Deleted Cloud Run service: %s", serviceName)
	return nil
}

// GetServiceURL retrieves the URL for a Cloud Run service
func (c *Client) GetServiceURL(ctx context.Context, serviceName string) (string, error) {
	service, err := c.RunClient.GetService(ctx, &runpb.GetServiceRequest{Name: c.serviceName(serviceName)})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("service %s: %w", serviceName, ErrNotFound)
		}
		return "", fmt.Errorf("failed to get service: %w", err)
	}

	if service.Uri == "" {
		return "", fmt.Errorf("service URL not available yet")
	}

	return service.Uri, nil
}

// StoreDocument stores a document in Firestore. collection may be a
// slash-separated path to a subcollection.
func (c *Client) StoreDocument(ctx context.Context, collection, docID string, data interface{}) error {
	_, err := c.FirestoreClient.Collection(collection).Doc(docID).Set(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document from Firestore. A missing document
// yields ErrNotFound.
func (c *Client) GetDocument(ctx context.Context, collection, docID string, dest interface{}) error {
	doc, err := c.FirestoreClient.Collection(collection).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get document: %w", err)
	}

	if err := doc.DataTo(dest); err != nil {
		return fmt.Errorf("failed to unmarshal document: %w", err)
	}

	return nil
}

// ListDocumentIDs returns the ids of every document in a collection
func (c *Client) ListDocumentIDs(ctx context.Context, collection string) ([]string, error) {
	iter := c.FirestoreClient.Collection(collection).DocumentRefs(ctx)
	var ids []string
	for {
		ref, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// PublishMessage publishes a message to a Pub/Sub topic
func (c *Client) PublishMessage(ctx context.Context, topicName string, data []byte, attributes map[string]string) error {
	topic, err := c.topic(ctx, topicName)
	if err != nil {
		return err
	}

	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// topic returns a cached topic handle, creating the topic on first use
func (c *Client) topic(ctx context.Context, topicName string) (*pubsub.Topic, error) {
	c.topicsMu.Lock()
	defer c.topicsMu.Unlock()

	if topic, ok := c.topics[topicName]; ok {
		return topic, nil
	}

	topic := c.PubSubClient.Topic(topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic existence: %w", err)
	}

	if !exists {
		topic, err = c.PubSubClient.CreateTopic(ctx, topicName)
		if err != nil {
			return nil, fmt.Errorf("failed to create topic: %w", err)
		}
	}

	c.topics[topicName] = topic
	return topic, nil
}
