// Package manifest renders the two JSON documents of a single-layer legacy
// image tarball: the top level 'repositories' index and the layer 'json'
// manifest. Only the fields needed for a runtime to import the image are
// modeled.
package manifest
