package sqlinline

const QSelectIntegrationToken = `--sql 7e7ba597-aedd-49d3-a4f7-756696131ab7
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 53a7e662-7999-434b-8a39-f4661fba0a7e
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token      = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
