package store

// Cypher statements for the graph-backed store. Players, features, and
// question phrasings are nodes; learned facts are HAS relationships carrying
// answer/source/confidence; the decision graph is LEADS_TO relationships
// keyed by (normalized question, answer).

const (
	// candidateFilter keeps players not ruled out by a recorded fact: a
	// "yes" constraint eliminates players recorded "no" on that feature and
	// vice versa. Unrecorded cells never eliminate.
	candidateFilter = `
		NOT p.normalized_name IN $rejected
		AND none(aid IN $yes_ids WHERE exists {
			MATCH (p)-[h:HAS]->(:Feature {uuid: aid}) WHERE h.answer = 'no'
		})
		AND none(aid IN $no_ids WHERE exists {
			MATCH (p)-[h:HAS]->(:Feature {uuid: aid}) WHERE h.answer = 'yes'
		})`

	candidateSummaryQuery = `
		MATCH (p:Player)
		WHERE ` + candidateFilter + `
		WITH p ORDER BY p.prior_weight DESC, p.name ASC
		WITH collect(p) AS ps
		RETURN size(ps) AS candidate_count,
			reduce(t = 0.0, x IN ps | t + x.prior_weight) AS total_weight,
			CASE WHEN size(ps) > 0 THEN ps[0].uuid ELSE '' END AS top_uuid,
			CASE WHEN size(ps) > 0 THEN ps[0].name ELSE '' END AS top_name,
			CASE WHEN size(ps) > 0 THEN ps[0].prior_weight ELSE 0.0 END AS top_weight
	`

	attributeStatsQuery = `
		MATCH (p:Player)
		WHERE ` + candidateFilter + `
		WITH collect(p) AS ps
		MATCH (f:Feature)
		WHERE NOT f.uuid IN $asked_ids
		RETURN f.uuid AS attribute_id,
			size([p IN ps WHERE (p)-[:HAS {answer: 'yes'}]->(f)]) AS true_count,
			size([p IN ps WHERE (p)-[:HAS {answer: 'yes'}]->(f) OR (p)-[:HAS {answer: 'no'}]->(f)]) AS known_count,
			size(ps) AS total_count
		ORDER BY attribute_id
	`

	matrixRowsQuery = `
		MATCH (p:Player)
		WITH p ORDER BY p.prior_weight DESC, p.name ASC
		LIMIT $top_n
		OPTIONAL MATCH (p)-[h:HAS]->(f:Feature)
		RETURN p.uuid AS uuid, p.name AS name, p.normalized_name AS normalized_name,
			p.prior_weight AS prior_weight, coalesce(p.image_url, '') AS image_url,
			collect({feature: f.uuid, answer: h.answer}) AS facts
	`

	attributeGapsQuery = `
		MATCH (f:Feature {uuid: $feature_uuid})
		MATCH (p:Player)
		WHERE NOT (p)-[:HAS]->(f)
		RETURN p.uuid AS uuid, p.name AS name, f.uuid AS feature_uuid,
			coalesce(f.label, '') AS label
		LIMIT $limit
	`

	listAttributesQuery = `
		MATCH (f:Feature)
		RETURN f.uuid AS uuid, f.key AS key, f.value AS value,
			coalesce(f.label, '') AS label, coalesce(f.grp, f.key) AS grp,
			coalesce(f.is_exclusive, false) AS is_exclusive
		ORDER BY uuid
	`

	upsertAttributeQuery = `
		MERGE (f:Feature {normalized_key: $normalized_key, normalized_value: $normalized_value})
		ON CREATE SET f.uuid = $uuid, f.key = $key, f.value = $value,
			f.label = $label, f.grp = $grp, f.is_exclusive = $is_exclusive
		RETURN f.uuid AS uuid, f.key AS key, f.value AS value,
			coalesce(f.label, '') AS label, coalesce(f.grp, f.key) AS grp,
			coalesce(f.is_exclusive, false) AS is_exclusive
	`

	upsertQuestionQuery = `
		MATCH (f:Feature {uuid: $feature_uuid})
		MERGE (q:Question {feature_uuid: $feature_uuid, normalized_text: $normalized_text})
		ON CREATE SET q.uuid = $uuid, q.text = $text, q.seen_count = 0, q.success_count = 0
		MERGE (q)-[:ASKS]->(f)
		RETURN q.uuid AS uuid, q.feature_uuid AS feature_uuid, q.text AS text,
			q.normalized_text AS normalized_text, q.seen_count AS seen_count,
			q.success_count AS success_count
	`

	bestQuestionQuery = `
		MATCH (q:Question {feature_uuid: $feature_uuid})
		RETURN q.uuid AS uuid, q.feature_uuid AS feature_uuid, q.text AS text,
			q.normalized_text AS normalized_text, q.seen_count AS seen_count,
			q.success_count AS success_count
		ORDER BY q.success_count DESC, q.seen_count DESC, q.uuid ASC
		LIMIT 1
	`

	questionByIDQuery = `
		MATCH (q:Question {uuid: $uuid})
		RETURN q.uuid AS uuid, q.feature_uuid AS feature_uuid, q.text AS text,
			q.normalized_text AS normalized_text, q.seen_count AS seen_count,
			q.success_count AS success_count
		LIMIT 1
	`

	questionByNormQuery = `
		MATCH (q:Question {normalized_text: $normalized_text})
		RETURN q.uuid AS uuid, q.feature_uuid AS feature_uuid, q.text AS text,
			q.normalized_text AS normalized_text, q.seen_count AS seen_count,
			q.success_count AS success_count
		LIMIT 1
	`

	allQuestionsQuery = `
		MATCH (q:Question)
		RETURN q.uuid AS uuid, q.feature_uuid AS feature_uuid, q.text AS text,
			q.normalized_text AS normalized_text, q.seen_count AS seen_count,
			q.success_count AS success_count
	`

	bumpQuestionSeenQuery = `
		MATCH (q:Question {uuid: $uuid})
		SET q.seen_count = coalesce(q.seen_count, 0) + 1
	`

	bumpQuestionSuccessQuery = `
		MATCH (q:Question {uuid: $uuid})
		SET q.success_count = coalesce(q.success_count, 0) + 1
	`

	entityByNormQuery = `
		MATCH (p:Player {normalized_name: $normalized_name})
		RETURN p.uuid AS uuid, p.name AS name, p.normalized_name AS normalized_name,
			p.prior_weight AS prior_weight, coalesce(p.image_url, '') AS image_url
		LIMIT 1
	`

	allEntityNamesQuery = `
		MATCH (p:Player)
		RETURN p.uuid AS uuid, p.name AS name, p.normalized_name AS normalized_name,
			p.prior_weight AS prior_weight, coalesce(p.image_url, '') AS image_url
	`

	upsertEntityQuery = `
		MERGE (p:Player {normalized_name: $normalized_name})
		ON CREATE SET p.uuid = $uuid, p.name = $name, p.prior_weight = 1.0
		SET p.image_url = CASE
			WHEN $image_url <> '' AND coalesce(p.image_url, '') = '' THEN $image_url
			ELSE p.image_url END
		RETURN p.uuid AS uuid, p.name AS name, p.normalized_name AS normalized_name,
			p.prior_weight AS prior_weight, coalesce(p.image_url, '') AS image_url
	`

	upsertFactQuery = `
		MATCH (p:Player {uuid: $player_uuid})
		MATCH (f:Feature {uuid: $feature_uuid})
		MERGE (p)-[h:HAS]->(f)
		SET h.answer = CASE
			WHEN coalesce(h.source, '') = 'confirmed' AND $source <> 'confirmed' THEN h.answer
			ELSE $answer END,
		h.source = CASE
			WHEN coalesce(h.source, '') = 'confirmed' AND $source <> 'confirmed' THEN h.source
			ELSE $source END,
		h.confidence = CASE
			WHEN coalesce(h.source, '') = 'confirmed' AND $source <> 'confirmed' THEN h.confidence
			ELSE $confidence END
	`

	upsertSessionQuery = `
		MERGE (s:Session {uuid: $uuid})
		ON CREATE SET s.created_at = $now
		SET s.status = $status, s.history = $history, s.rejected = $rejected,
			s.question_count = $question_count, s.updated_at = $now
		RETURN s.uuid AS uuid
	`

	getSessionQuery = `
		MATCH (s:Session {uuid: $uuid})
		RETURN s.uuid AS uuid, s.status AS status, s.history AS history,
			s.rejected AS rejected, coalesce(s.question_count, 0) AS question_count,
			s.created_at AS created_at, s.updated_at AS updated_at
	`

	closeSessionQuery = `
		MATCH (s:Session {uuid: $uuid})
		SET s.status = $status, s.guessed_name = $guessed_name,
			s.guessed_uuid = $guessed_uuid, s.question_count = $question_count,
			s.updated_at = $now
	`

	saveSnapshotQuery = `
		MERGE (s:Session {uuid: $uuid})
		SET s.snapshot = $snapshot, s.updated_at = $now
	`

	getSnapshotQuery = `
		MATCH (s:Session {uuid: $uuid})
		WHERE s.snapshot IS NOT NULL
		RETURN s.snapshot AS snapshot
	`

	deleteSnapshotQuery = `
		MATCH (s:Session {uuid: $uuid})
		SET s.snapshot = null
	`

	transitionsFromQuery = `
		MATCH (t:Transition {from_norm: $from_norm, answer: $answer})
		RETURN t.from_norm AS from_norm, t.answer AS answer, t.next_type AS next_type,
			coalesce(t.next_question, '') AS next_question,
			coalesce(t.next_guess, '') AS next_guess,
			coalesce(t.seen_count, 0) AS seen_count,
			coalesce(t.success_count, 0) AS success_count,
			t.updated_at AS updated_at
		ORDER BY seen_count DESC, updated_at DESC
	`

	recordTransitionQuery = `
		MERGE (t:Transition {from_norm: $from_norm, answer: $answer,
			next_type: $next_type, next_question: $next_question, next_guess: $next_guess})
		ON CREATE SET t.seen_count = 0, t.success_count = 0
		SET t.seen_count = t.seen_count + 1,
			t.success_count = t.success_count + $success_delta,
			t.updated_at = $now
	`

	recentPathsQuery = `
		MATCH (pp:PlayPath)
		RETURN pp.uuid AS uuid, coalesce(pp.entity_uuid, '') AS entity_uuid,
			pp.entity_name AS entity_name, pp.steps AS steps, pp.created_at AS created_at
		ORDER BY pp.created_at DESC
		LIMIT $limit
	`

	savePathQuery = `
		CREATE (pp:PlayPath {uuid: $uuid, entity_uuid: $entity_uuid,
			entity_name: $entity_name, steps: $steps, created_at: $now})
	`

	enqueueLearningQuery = `
		CREATE (i:LearningItem {uuid: $uuid, reason: $reason, guess_name: $guess_name,
			confidence: $confidence, history: $history, created_at: $now})
	`
)

// buildIndexQueries are issued at startup. Memgraph accepts plain
// CREATE INDEX statements; failures on re-creation are ignored.
var buildIndexQueries = []string{
	"CREATE INDEX ON :Player(uuid);",
	"CREATE INDEX ON :Player(normalized_name);",
	"CREATE INDEX ON :Feature(uuid);",
	"CREATE INDEX ON :Question(uuid);",
	"CREATE INDEX ON :Question(normalized_text);",
	"CREATE INDEX ON :Session(uuid);",
	"CREATE INDEX ON :Transition(from_norm);",
	"CREATE INDEX ON :PlayPath(uuid);",
}
