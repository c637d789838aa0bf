// Package searchindex writes transcript and slide cards to an Elasticsearch
// index per video and answers keyword searches scoped to one video.
package searchindex
