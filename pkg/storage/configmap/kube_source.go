package configmap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/platinummonkey/appgate/pkg/observability"
	"github.com/platinummonkey/appgate/pkg/policy"
)

// SourceKube labels reloads fetched from the Kubernetes API
const SourceKube = "kube"

// KubeSource fetches the policy document from a ConfigMap through the
// Kubernetes API. Sync is driven by a cron schedule.
type KubeSource struct {
	client    kubernetes.Interface
	namespace string
	name      string
	dataKey   string
	store     *Store
	logger    *observability.Logger

	mu              sync.Mutex
	resourceVersion string
}

// NewKubeSource creates a kube source feeding store
func NewKubeSource(client kubernetes.Interface, namespace, name, dataKey string, store *Store, logger *observability.Logger) *KubeSource {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &KubeSource{
		client:    client,
		namespace: namespace,
		name:      name,
		dataKey:   dataKey,
		store:     store,
		logger: logger.WithFields(map[string]interface{}{
			"namespace": namespace,
			"configmap": name,
		}),
	}
}

// NewKubeClient builds a clientset from kubeconfig, or from the in-cluster
// service account when kubeconfig is empty.
func NewKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	var (
		config *rest.Config
		err    error
	)
	if kubeconfig == "" {
		config, err = rest.InClusterConfig()
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return clientset, nil
}

// Sync fetches the ConfigMap and applies its document. An unchanged
// resource version is skipped.
func (k *KubeSource) Sync(ctx context.Context) error {
	cm, err := k.client.CoreV1().ConfigMaps(k.namespace).Get(ctx, k.name, metav1.GetOptions{})
	if err != nil {
		k.store.metrics.RecordDocumentReload(SourceKube, "fetch_error")
		return policy.NewBackendError(backendName, "get configmap", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if cm.ResourceVersion != "" && cm.ResourceVersion == k.resourceVersion {
		return nil
	}

	raw, ok := cm.Data[k.dataKey]
	var doc []byte
	if ok {
		doc = []byte(raw)
	} else if bin, ok := cm.BinaryData[k.dataKey]; ok {
		doc = bin
	} else {
		k.store.metrics.RecordDocumentReload(SourceKube, "rejected")
		return fmt.Errorf("configmap %s/%s has no key %q", k.namespace, k.name, k.dataKey)
	}

	if _, err := k.store.Update(SourceKube, doc); err != nil {
		return err
	}
	k.resourceVersion = cm.ResourceVersion
	return nil
}

// Schedule registers a periodic Sync on c
func (k *KubeSource) Schedule(c *cron.Cron, spec string, timeout time.Duration) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := k.Sync(ctx); err != nil {
			k.logger.WithError(err).Warn("ConfigMap sync failed")
		}
	})
}
