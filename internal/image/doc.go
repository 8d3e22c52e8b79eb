// Package image assembles ordered layer deltas into an exportable image.
//
// Assembly is pure composition: the deltas produced (or cache-replayed) by
// the build pipeline are stacked, in step order, on top of the base image
// reference. An incomplete or misordered delta sequence indicates a planner
// defect and fails assembly with an InconsistencyError; no partial image is
// ever produced.
//
// Export writes the assembled image as an OCI image layout directory
// (index.json, oci-layout, blobs/) with uncompressed tar layers. The base
// image is recorded as a manifest annotation rather than materialized; the
// consuming runtime resolves the reference.
package image
