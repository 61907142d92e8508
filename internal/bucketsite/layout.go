package bucketsite

import (
	"fmt"
	"strings"
)

// Object layout, relative to the store prefix:
//
//	.sitepublish/sites/<site_id>                      -> site name
//	.sitepublish/deploys/<deploy_id>                  -> site name
//	<site>/.sitepublish/site.json
//	<site>/.sitepublish/LIVE                          -> live deploy id
//	<site>/.sitepublish/blobs/<sha1>
//	<site>/.sitepublish/deploys/<deploy_id>/session.json
//	<site>/.sitepublish/deploys/<deploy_id>/manifest.json
//	<site>/<path>                                     published files
const metaDir = ".sitepublish/"

func siteIndexKey(siteID string) string { return metaDir + "sites/" + siteID }

func deployIndexKey(deployID string) string { return metaDir + "deploys/" + deployID }

func siteRecordKey(site string) string { return site + "/" + metaDir + "site.json" }

func livePointerKey(site string) string { return site + "/" + metaDir + "LIVE" }

func blobKey(site, hash string) string { return site + "/" + metaDir + "blobs/" + hash }

func deploysPrefix(site string) string { return site + "/" + metaDir + "deploys/" }

func deployPrefix(site, deployID string) string { return deploysPrefix(site) + deployID + "/" }

func sessionKey(site, deployID string) string { return deployPrefix(site, deployID) + "session.json" }

func recordKey(site, deployID string) string { return deployPrefix(site, deployID) + "manifest.json" }

// publicKey maps a manifest path ("/css/app.css") to its object key.
func publicKey(site, p string) string { return site + p }

// checkSiteName rejects names that would escape or collide with the
// layout. The orchestrator validates names more strictly before any call.
func checkSiteName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("site name is empty")
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("site name %q contains a path separator", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("site name %q starts with a dot", name)
	}
	return nil
}

// deployIDFromKey extracts <deploy_id> from a key under deploysPrefix(site).
func deployIDFromKey(site, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, deploysPrefix(site))
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
