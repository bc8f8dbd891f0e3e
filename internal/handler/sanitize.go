package handler

import (
	"github.com/otterscale/watchbridge/internal/core"
)

// lastAppliedAnnotation is written by kubectl apply and duplicates the
// whole object.
const lastAppliedAnnotation = "kubectl.kubernetes.io/last-applied-configuration"

// sanitizeSnapshot strips noisy metadata from every item in place.
func sanitizeSnapshot(snap *core.Snapshot) {
	for _, obj := range snap.Items {
		cleanObject(obj)
	}
}

// cleanObject removes metadata.managedFields and the last-applied
// annotation, dropping the annotations map once it is empty.
func cleanObject(obj map[string]any) {
	metadata, ok := obj["metadata"].(map[string]any)
	if !ok {
		return
	}
	delete(metadata, "managedFields")

	annotations, ok := metadata["annotations"].(map[string]any)
	if !ok {
		return
	}
	delete(annotations, lastAppliedAnnotation)
	if len(annotations) == 0 {
		delete(metadata, "annotations")
	}
}
