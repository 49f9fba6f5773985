package argocd

import (
	"context"
	"slices"
	"time"

	"github.com/argoproj/argo-cd/v2/pkg/apis/application/v1alpha1"
	"github.com/argoproj/gitops-engine/pkg/health"
	"gopkg.in/yaml.v3"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/smol-labs/homelab-bootstrap/internal/argocd/client"
	"github.com/smol-labs/homelab-bootstrap/internal/config"
	"github.com/smol-labs/homelab-bootstrap/internal/errors"
	"github.com/smol-labs/homelab-bootstrap/internal/kube"
	"github.com/smol-labs/homelab-bootstrap/internal/logging"
)

const (
	// AppsetSecretName is the Secret the cluster-wide ApplicationSets template
	// their values from.
	AppsetSecretName = "appset-secret-vars"
	// AppsetSecretKey is the single data key inside AppsetSecretName holding a
	// flat YAML map of template variables.
	AppsetSecretKey = "secret_vars.yaml"

	healthPollInterval = 5 * time.Second
)

// Registry drives Argo CD application and project state toward what the
// config declares. All operations are idempotent: an existing object is
// either left alone or grown, never shrunk or recreated.
type Registry struct {
	client    client.Interface
	kube      kube.Interface
	namespace string
}

// NewRegistry creates a Registry working against the given Argo CD API
// client. namespace is where Argo CD itself runs (usually "argocd").
func NewRegistry(argo client.Interface, cluster kube.Interface, namespace string) *Registry {
	return &Registry{
		client:    argo,
		kube:      cluster,
		namespace: namespace,
	}
}

// Exists reports whether an Argo CD application with the given name is
// already registered. Only an explicit NotFound from the server counts as
// absent; any other failure propagates so a flaky connection can never be
// mistaken for a missing app.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	_, err := r.client.GetApplication(ctx, name)
	if err != nil {
		if client.IsNotFound(err) {
			return false, nil
		}
		return false, errors.NewCLIError("cannot check application", err, map[string]interface{}{
			"application": name,
		})
	}
	return true, nil
}

// CreateApplication registers app with Argo CD: destination namespace,
// AppProject, then the Application itself. Apps that are part of an
// app-of-apps tree are skipped, their parent owns them.
func (r *Registry) CreateApplication(ctx context.Context, app *config.App) error {
	log := logging.WithField("application", app.Name)

	if app.Argo.PartOfAppOfApps {
		log.Info("Application is managed by an app-of-apps, skipping direct creation")
		return nil
	}

	if err := r.kube.CreateNamespace(ctx, app.Argo.Namespace); err != nil {
		return err
	}

	if err := r.ensureProject(ctx, app); err != nil {
		return err
	}

	manifest := buildApplication(app)
	if _, err := r.client.CreateApplication(ctx, manifest, true); err != nil {
		return errors.NewCLIError("cannot create application", err, map[string]interface{}{
			"application": app.Name,
		})
	}

	log.Info("Created Argo CD application")
	return nil
}

// ensureProject creates or widens the AppProject named after the app. An
// existing project is treated as authoritative state to grow: destinations
// and source repos become the union of what is there and what the app
// declares. Nothing is ever removed from a project.
func (r *Registry) ensureProject(ctx context.Context, app *config.App) error {
	desired := buildProject(app, r.namespace)

	existing, err := r.client.GetProject(ctx, app.Name)
	if err != nil {
		if !client.IsNotFound(err) {
			return errors.NewCLIError("cannot check project", err, map[string]interface{}{
				"project": app.Name,
			})
		}
		if _, err := r.client.CreateProject(ctx, desired, true); err != nil {
			return errors.NewCLIError("cannot create project", err, map[string]interface{}{
				"project": app.Name,
			})
		}
		logging.WithField("project", app.Name).Info("Created Argo CD project")
		return nil
	}

	merged := existing.DeepCopy()
	changed := false

	for _, dest := range desired.Spec.Destinations {
		if !hasDestination(merged.Spec.Destinations, dest) {
			merged.Spec.Destinations = append(merged.Spec.Destinations, dest)
			changed = true
		}
	}
	for _, repo := range desired.Spec.SourceRepos {
		if !slices.Contains(merged.Spec.SourceRepos, repo) {
			merged.Spec.SourceRepos = append(merged.Spec.SourceRepos, repo)
			changed = true
		}
	}

	if !changed {
		logging.WithField("project", app.Name).Debug("Project already covers all destinations")
		return nil
	}

	if _, err := r.client.UpdateProject(ctx, merged); err != nil {
		return errors.NewCLIError("cannot update project", err, map[string]interface{}{
			"project": app.Name,
		})
	}
	logging.WithField("project", app.Name).Info("Widened Argo CD project destinations")
	return nil
}

// WaitUntilHealthy polls the application until it reports Healthy and Synced.
func (r *Registry) WaitUntilHealthy(ctx context.Context, name string, timeout time.Duration) error {
	log := logging.WithField("application", name)
	log.Info("Waiting for application to become healthy")

	err := wait.PollUntilContextTimeout(ctx, healthPollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		app, err := r.client.GetApplication(ctx, name)
		if err != nil {
			if client.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}

		healthy := app.Status.Health.Status == health.HealthStatusHealthy
		synced := app.Status.Sync.Status == v1alpha1.SyncStatusCodeSynced
		log.WithFields(map[string]interface{}{
			"health": app.Status.Health.Status,
			"sync":   app.Status.Sync.Status,
		}).Debug("Application status")

		return healthy && synced, nil
	})
	if err != nil {
		return errors.NewTimeoutError("application did not become healthy", err)
	}

	log.Info("Application is healthy and synced")
	return nil
}

// SyncApplication requests a sync of the named application. Used after
// out-of-band changes such as OIDC wiring, so Argo CD picks them up without
// waiting for the next refresh cycle.
func (r *Registry) SyncApplication(ctx context.Context, name string) error {
	if _, err := r.client.SyncApplication(ctx, name); err != nil {
		return errors.NewCLIError("cannot sync application", err, map[string]interface{}{
			"application": name,
		})
	}
	logging.WithField("application", name).Info("Triggered application sync")
	return nil
}

// UpdateAppsetSecret merges vars into the appset-secret-vars Secret that the
// ApplicationSets template from. Existing keys not present in vars survive;
// keys in vars overwrite. The Secret is created if it does not exist yet.
func (r *Registry) UpdateAppsetSecret(ctx context.Context, vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}

	current := map[string]string{}
	exists := true

	secret, err := r.kube.GetSecret(ctx, AppsetSecretName, r.namespace)
	switch {
	case apierrors.IsNotFound(err):
		exists = false
	case err != nil:
		return errors.NewCLIError("cannot read appset secret", err, map[string]interface{}{
			"secret": AppsetSecretName, "namespace": r.namespace,
		})
	default:
		if raw, ok := secret.Data[AppsetSecretKey]; ok {
			if err := yaml.Unmarshal(raw, &current); err != nil {
				return errors.NewParsingError("cannot parse appset secret vars", err, map[string]interface{}{
					"secret": AppsetSecretName,
				})
			}
		}
	}

	for k, v := range vars {
		current[k] = v
	}

	encoded, err := yaml.Marshal(current)
	if err != nil {
		return errors.NewInternalError("cannot encode appset secret vars", err)
	}

	if !exists {
		if err := r.kube.CreateSecret(ctx, AppsetSecretName, r.namespace,
			map[string]string{AppsetSecretKey: string(encoded)}, nil); err != nil {
			return err
		}
	} else {
		if err := r.kube.UpdateSecretKey(ctx, AppsetSecretName, r.namespace,
			AppsetSecretKey, string(encoded)); err != nil {
			return err
		}
	}

	logging.WithField("keys", len(vars)).Info("Updated appset secret vars")
	return nil
}

func buildApplication(app *config.App) *v1alpha1.Application {
	return &v1alpha1.Application{
		ObjectMeta: metav1.ObjectMeta{
			Name: app.Name,
		},
		Spec: v1alpha1.ApplicationSpec{
			Project: app.Name,
			Source: &v1alpha1.ApplicationSource{
				RepoURL:        app.Argo.RepoURL,
				Path:           app.Argo.Path,
				TargetRevision: app.Argo.Revision,
			},
			Destination: v1alpha1.ApplicationDestination{
				Server:    config.DefaultDestServer,
				Namespace: app.Argo.Namespace,
			},
			SyncPolicy: &v1alpha1.SyncPolicy{
				Automated: &v1alpha1.SyncPolicyAutomated{
					SelfHeal: true,
				},
				SyncOptions: v1alpha1.SyncOptions{"ApplyOutOfSyncOnly=true"},
			},
		},
	}
}

func buildProject(app *config.App, argoNamespace string) *v1alpha1.AppProject {
	destinations := make([]v1alpha1.ApplicationDestination, 0, len(app.Argo.Project.DestinationNamespaces)+1)
	for _, ns := range app.Argo.Project.DestinationNamespaces {
		destinations = append(destinations, v1alpha1.ApplicationDestination{
			Server:    config.DefaultDestServer,
			Namespace: ns,
		})
	}
	// Argo CD itself must always be a valid destination so secrets shared
	// through the argocd namespace stay reachable.
	if !slices.Contains(app.Argo.Project.DestinationNamespaces, argoNamespace) {
		destinations = append(destinations, v1alpha1.ApplicationDestination{
			Server:    config.DefaultDestServer,
			Namespace: argoNamespace,
		})
	}

	return &v1alpha1.AppProject{
		ObjectMeta: metav1.ObjectMeta{
			Name: app.Name,
		},
		Spec: v1alpha1.AppProjectSpec{
			Description:  "homelab project for " + app.Name,
			Destinations: destinations,
			SourceRepos:  app.Argo.Project.SourceRepos,
			ClusterResourceWhitelist: []metav1.GroupKind{
				{Group: "*", Kind: "*"},
			},
			NamespaceResourceWhitelist: []metav1.GroupKind{
				{Group: "*", Kind: "*"},
			},
		},
	}
}

func hasDestination(haystack []v1alpha1.ApplicationDestination, needle v1alpha1.ApplicationDestination) bool {
	for _, d := range haystack {
		if d.Server == needle.Server && d.Namespace == needle.Namespace {
			return true
		}
	}
	return false
}
