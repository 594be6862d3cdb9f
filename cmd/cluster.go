package cmd

import (
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/shelter-analytics/internal/analysis"
)

var (
	clAlgorithm string
	clK         int
	clFeatures  []string
	clLoad      loadFlags
	clOut       outputFlags
)

var clusterCmd = &cobra.Command{
	Use:   "cluster <file>",
	Short: "Group similar animals with k-means, hierarchical linkage or DBSCAN",
	Long: `Group similar animals. With --algorithm all (the default) every algorithm runs
and the one with the highest silhouette score is reported as best.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := analysis.Request{Kind: analysis.KindCluster, Algorithm: clAlgorithm, K: clK, Features: clFeatures}
		return runRequest(cmd, analyzer(), args[0], req, &clLoad, &clOut)
	},
}

func init() {
	rootCmd.AddCommand(clusterCmd)
	clusterCmd.Flags().StringVarP(&clAlgorithm, "algorithm", "a", "all", "kmeans | hierarchical | dbscan | all")
	clusterCmd.Flags().IntVarP(&clK, "k", "k", 0, "number of groups for kmeans and hierarchical (0 = config default_k)")
	clusterCmd.Flags().StringSliceVarP(&clFeatures, "features", "f", nil, "comma-separated columns to cluster on (default all eligible)")
	clLoad.register(clusterCmd)
	clOut.register(clusterCmd)
}
