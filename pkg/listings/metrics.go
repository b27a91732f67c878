package listings

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	snapshotRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listings_snapshot_refreshes_total",
		Help: "Total upstream snapshot refreshes",
	})

	dedupSharedResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listings_dedup_shared_total",
		Help: "Total fetches resolved by sharing an in-flight upstream call",
	})

	degradedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listings_degraded_writes_total",
		Help: "Total split-cache writes that fell back to a combined write",
	})

	featuredPatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listings_featured_patches_total",
		Help: "Total in-place featured-flag patches of cached metadata",
	})

	imagesMissing = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listings_reconstruct_images_missing_total",
		Help: "Total image slots unavailable during record reconstruction",
	})
)
