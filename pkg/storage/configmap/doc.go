// Package configmap serves access policies from a YAML document kept in a
// Kubernetes ConfigMap.
//
// The document maps each appKey to its secret, status and the services it
// may call:
//
//	acme:
//	  secret: s3cr3t
//	  status: online
//	  servers:
//	    - serviceCode: orders
//	      allowedCallerIps: ["10.0.0.0/8"]
//	      status: online
//
// Two sources feed a Store: FileSource watches a mounted volume with
// fsnotify, KubeSource polls the API server on a cron schedule. A document
// that fails to decode is rejected and the previous one stays in effect.
package configmap
