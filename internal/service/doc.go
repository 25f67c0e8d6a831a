// Package service is the request/response surface of a long-lived codegraph
// process. A Request names a tool and carries a loosely typed argument map;
// Handle answers every request with a text Response, turning failures into
// error responses classified by types.ErrorKind.
//
// Tools:
//
//   - search_code: project_path, terms, limit (50), mode (any|all), use_fts (true), node_type
//   - list_entities: project_path, node_type, limit (50)
//   - top_entities: project_path, limit (20), node_type
//   - get_entity: project_path, id
//   - get_project_stats: project_path
//   - index_project: project_path, full_rebuild (false), rescore (false)
//   - remove_project: project_path
//
// Empty answers are not errors: they carry types.OutcomeNoResults.
package service
