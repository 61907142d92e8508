package bucketsite

import (
	"context"
	"fmt"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/deployid"
)

// prune removes deploy records beyond the retention limit. The live deploy
// and current are never removed, and neither are IDs this package did not
// generate. Blobs are shared between deploys and are left alone. Returns
// the pruned deploy IDs, oldest last.
func (h *Host) prune(ctx context.Context, site, current string) ([]string, error) {
	if h.retain <= 0 {
		return nil, nil
	}

	liveID, _, err := h.readLive(ctx, site)
	if err != nil {
		return nil, err
	}

	objects, err := h.store.List(ctx, deploysPrefix(site))
	if err != nil {
		return nil, fmt.Errorf("list deploys of %q: %w", site, err)
	}

	keysByDeploy := make(map[string][]string)
	var ids []string
	for _, obj := range objects {
		id, ok := deployIDFromKey(site, obj.Key)
		if !ok || !deployid.IsValid(id) || id == liveID || id == current {
			continue
		}
		if _, seen := keysByDeploy[id]; !seen {
			ids = append(ids, id)
		}
		keysByDeploy[id] = append(keysByDeploy[id], obj.Key)
	}

	if len(ids) <= h.retain {
		return nil, nil
	}
	deployid.SortNewestFirst(ids)

	var pruned []string
	for _, id := range ids[h.retain:] {
		keys := append(keysByDeploy[id], deployIndexKey(id))
		if err := h.deleteKeys(ctx, keys); err != nil {
			return pruned, fmt.Errorf("prune deploy %s: %w", id, err)
		}
		pruned = append(pruned, id)
	}
	return pruned, nil
}
