package core

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
	"sigs.k8s.io/yaml"
)

// ResourceInfo describes where a logical resource lives on the API
// server.
type ResourceInfo struct {
	// BasePath is the group/version prefix, e.g. "/api/v1" or
	// "/apis/apps/v1".
	BasePath string `json:"basePath"`
	// Namespaced is true when the resource is namespace-scoped.
	Namespaced bool `json:"namespaced"`
	// Aliases are alternative names (singular, short names) that
	// resolve to this resource.
	Aliases []string `json:"aliases,omitempty"`
}

// ResourceTable maps a canonical plural resource name to its location.
type ResourceTable map[string]ResourceInfo

// DefaultResourceTable covers the built-in kinds a cluster browser
// lists most often.
func DefaultResourceTable() ResourceTable {
	return ResourceTable{
		"pods":                      {BasePath: "/api/v1", Namespaced: true, Aliases: []string{"pod", "po"}},
		"services":                  {BasePath: "/api/v1", Namespaced: true, Aliases: []string{"service", "svc"}},
		"configmaps":                {BasePath: "/api/v1", Namespaced: true, Aliases: []string{"configmap", "cm"}},
		"secrets":                   {BasePath: "/api/v1", Namespaced: true, Aliases: []string{"secret"}},
		"events":                    {BasePath: "/api/v1", Namespaced: true, Aliases: []string{"event", "ev"}},
		"serviceaccounts":           {BasePath: "/api/v1", Namespaced: true, Aliases: []string{"serviceaccount", "sa"}},
		"persistentvolumeclaims":    {BasePath: "/api/v1", Namespaced: true, Aliases: []string{"persistentvolumeclaim", "pvc"}},
		"endpoints":                 {BasePath: "/api/v1", Namespaced: true, Aliases: []string{"ep"}},
		"namespaces":                {BasePath: "/api/v1", Namespaced: false, Aliases: []string{"namespace", "ns"}},
		"nodes":                     {BasePath: "/api/v1", Namespaced: false, Aliases: []string{"node", "no"}},
		"persistentvolumes":         {BasePath: "/api/v1", Namespaced: false, Aliases: []string{"persistentvolume", "pv"}},
		"deployments":               {BasePath: "/apis/apps/v1", Namespaced: true, Aliases: []string{"deployment", "deploy"}},
		"statefulsets":              {BasePath: "/apis/apps/v1", Namespaced: true, Aliases: []string{"statefulset", "sts"}},
		"daemonsets":                {BasePath: "/apis/apps/v1", Namespaced: true, Aliases: []string{"daemonset", "ds"}},
		"replicasets":               {BasePath: "/apis/apps/v1", Namespaced: true, Aliases: []string{"replicaset", "rs"}},
		"jobs":                      {BasePath: "/apis/batch/v1", Namespaced: true, Aliases: []string{"job"}},
		"cronjobs":                  {BasePath: "/apis/batch/v1", Namespaced: true, Aliases: []string{"cronjob", "cj"}},
		"ingresses":                 {BasePath: "/apis/networking.k8s.io/v1", Namespaced: true, Aliases: []string{"ingress", "ing"}},
		"networkpolicies":           {BasePath: "/apis/networking.k8s.io/v1", Namespaced: true, Aliases: []string{"networkpolicy", "netpol"}},
		"storageclasses":            {BasePath: "/apis/storage.k8s.io/v1", Namespaced: false, Aliases: []string{"storageclass", "sc"}},
		"customresourcedefinitions": {BasePath: "/apis/apiextensions.k8s.io/v1", Namespaced: false, Aliases: []string{"customresourcedefinition", "crd", "crds"}},
	}
}

// ParseResourceTable decodes a YAML (or JSON) document of the form
//
//	pods:
//	  basePath: /api/v1
//	  namespaced: true
//	  aliases: [po]
func ParseResourceTable(data []byte) (ResourceTable, error) {
	table := ResourceTable{}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse resource table: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("parse resource table: no resources defined")
	}
	return table, nil
}

// ResourcePath is the outcome of resolving a resource for a watch or
// list request.
type ResourcePath struct {
	// Resource is the canonical plural name after alias resolution.
	Resource string
	// Namespace is the effective namespace: empty for cluster-scoped
	// resources and for all-namespaces requests.
	Namespace string
	// Path is the absolute API path, e.g.
	// "/api/v1/namespaces/default/pods".
	Path string
}

// Resolver maps logical resource names onto API paths. It is built
// once from a ResourceTable and is read-only afterwards, so it is safe
// for concurrent use.
type Resolver struct {
	table   ResourceTable
	aliases map[string]string
}

// NewResolver validates the table and indexes its aliases. An alias
// that collides with another resource or alias is rejected.
func NewResolver(table ResourceTable) (*Resolver, error) {
	r := &Resolver{
		table:   make(ResourceTable, len(table)),
		aliases: make(map[string]string),
	}

	for name, info := range table {
		canonical := normalizeName(name)
		if canonical == "" {
			return nil, &ErrInvalidInput{Field: "resource table", Message: "empty resource name"}
		}
		if !strings.HasPrefix(info.BasePath, "/") {
			return nil, &ErrInvalidInput{Field: "resource table", Message: fmt.Sprintf("%s: base path %q must be absolute", name, info.BasePath)}
		}
		info.BasePath = strings.TrimSuffix(info.BasePath, "/")
		r.table[canonical] = info
	}

	for canonical, info := range r.table {
		for _, alias := range info.Aliases {
			a := normalizeName(alias)
			if a == "" || a == canonical {
				continue
			}
			if _, ok := r.table[a]; ok {
				return nil, &ErrInvalidInput{Field: "resource table", Message: fmt.Sprintf("alias %q of %s shadows a resource", a, canonical)}
			}
			if prev, ok := r.aliases[a]; ok && prev != canonical {
				return nil, &ErrInvalidInput{Field: "resource table", Message: fmt.Sprintf("alias %q used by %s and %s", a, prev, canonical)}
			}
			r.aliases[a] = canonical
		}
	}

	return r, nil
}

// Canonical returns the canonical plural for name, resolving aliases.
func (r *Resolver) Canonical(name string) (string, ResourceInfo, error) {
	n := normalizeName(name)
	if canonical, ok := r.aliases[n]; ok {
		n = canonical
	}
	info, ok := r.table[n]
	if !ok {
		return "", ResourceInfo{}, &ErrUnknownResource{Resource: name}
	}
	return n, info, nil
}

// Resolve maps resource (+ optional namespace) to a concrete API path.
// Namespaced resources without a namespace resolve to the
// all-namespaces path; cluster-scoped resources ignore the namespace.
func (r *Resolver) Resolve(resource, namespace string) (ResourcePath, error) {
	canonical, info, err := r.Canonical(resource)
	if err != nil {
		return ResourcePath{}, err
	}

	if !info.Namespaced || namespace == "" {
		return ResourcePath{
			Resource: canonical,
			Path:     info.BasePath + "/" + canonical,
		}, nil
	}

	if errs := validation.IsDNS1123Label(namespace); len(errs) > 0 {
		return ResourcePath{}, &ErrInvalidInput{Field: "namespace", Message: strings.Join(errs, "; ")}
	}

	return ResourcePath{
		Resource:  canonical,
		Namespace: namespace,
		Path:      info.BasePath + "/namespaces/" + namespace + "/" + canonical,
	}, nil
}

// Resources returns the canonical names in sorted order.
func (r *Resolver) Resources() []string {
	return slices.Sorted(maps.Keys(r.table))
}

// Info returns the table entry for a canonical name.
func (r *Resolver) Info(canonical string) (ResourceInfo, bool) {
	info, ok := r.table[canonical]
	return info, ok
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
